// Package transport provides byte channels to a device shell: a serial line,
// an interactive SSH session and a local PTY shell. All variants share the
// same non-blocking read contract so the command runner can poll them.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// InterruptByte is the ETX byte a terminal sends for Ctrl+C.
const InterruptByte = 0x03

var (
	// ErrConnection is returned when a transport cannot be opened or
	// authenticated. It is fatal for the session.
	ErrConnection = errors.New("connection error")
	// ErrClosed is reported by Err once the device side stopped sending:
	// the shell exited, the channel or port went away, or Close was called.
	ErrClosed = errors.New("transport closed")
)

// Transport is an open channel to a device. It is owned by exactly one
// device and is never used by two commands at the same time.
type Transport interface {
	// ID identifies the channel: a port name or host:port/session-id.
	ID() string
	// Write sends p in full.
	Write(p []byte) error
	// ReadAvailable returns at most max bytes that are ready now. It never
	// blocks and returns an empty slice when nothing is ready.
	ReadAvailable(max int) []byte
	// Pending reports how many bytes ReadAvailable could return.
	Pending() int
	// Drain discards input that has not been read yet.
	Drain()
	// Interrupt sends a single interrupt keystroke.
	Interrupt() error
	// Err is nil while input can still arrive. Afterwards it wraps
	// ErrClosed and the cause; bytes already read stay available.
	Err() error
	Close() error
}

// inbox adapts blocking readers to the non-blocking Transport contract.
// Each reader is copied by its own goroutine into a shared buffer.
type inbox struct {
	mu  sync.Mutex
	buf bytes.Buffer
	err error
	wg  sync.WaitGroup
}

func newInbox() *inbox {
	return &inbox{}
}

// pump starts copying r into the inbox until r returns an error.
func (in *inbox) pump(r io.Reader) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		chunk := make([]byte, 4096)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				in.mu.Lock()
				in.buf.Write(chunk[:n])
				in.mu.Unlock()
			}
			if err != nil {
				in.mu.Lock()
				if in.err == nil {
					in.err = err
				}
				in.mu.Unlock()
				return
			}
		}
	}()
}

func (in *inbox) take(max int) []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	if max <= 0 || in.buf.Len() == 0 {
		return nil
	}
	n := min(max, in.buf.Len())
	out := make([]byte, n)
	copy(out, in.buf.Next(n))
	return out
}

func (in *inbox) pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.buf.Len()
}

func (in *inbox) reset() {
	in.mu.Lock()
	in.buf.Reset()
	in.mu.Unlock()
}

// readErr returns the error that stopped the first finished reader, if any.
func (in *inbox) readErr() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// failure wraps the read error in ErrClosed.
func (in *inbox) failure() error {
	err := in.readErr()
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// wait blocks until every pumped reader has returned.
func (in *inbox) wait() {
	in.wg.Wait()
}

// writeFull writes all of p to w.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
