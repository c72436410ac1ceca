// Package runner sends shell commands over a transport and decides when the
// device has finished running them. Completion is inferred from the shell
// prompt reappearing in the most recent output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/normalize"
	"github.com/andrej220/boardrun/internal/transport"
)

const (
	DefaultTick           = 50 * time.Millisecond
	DefaultSettleCap      = 20 * time.Second
	DefaultInterruptGrace = 500 * time.Millisecond
	// MaxChunk bounds a single read from the transport.
	MaxChunk = 8192
)

var (
	// ErrBusy is returned when a command is already running on the transport.
	ErrBusy = errors.New("runner busy")
	// ErrTransport wraps write failures while sending a command.
	ErrTransport = errors.New("transport failure")
)

// Runner drives one transport. It runs at most one command at a time.
type Runner struct {
	tr         transport.Transport
	lineEnding string
	tick       time.Duration
	settleCap  time.Duration
	grace      time.Duration
	detector   *Detector
	logger     lg.Logger

	mu  sync.Mutex
	buf OutputBuffer
}

// Option configures a Runner.
type Option func(*Runner)

func WithTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithSettleCap sets the upper bound of the minimum time a command runs
// before a prompt is trusted.
func WithSettleCap(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.settleCap = d
		}
	}
}

// WithInterruptGrace sets how long to wait after interrupting a timed out
// program.
func WithInterruptGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithLineEnding sets the command terminator: "\r" for serial lines, "\n"
// for shells.
func WithLineEnding(s string) Option {
	return func(r *Runner) { r.lineEnding = s }
}

// WithDetector replaces the default prompt detector.
func WithDetector(d *Detector) Option {
	return func(r *Runner) {
		if d != nil {
			r.detector = d
		}
	}
}

func WithLogger(l lg.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Runner for tr.
func New(tr transport.Transport, opts ...Option) *Runner {
	d, _ := NewDetector("")
	r := &Runner{
		tr:         tr,
		lineEnding: "\n",
		tick:       DefaultTick,
		settleCap:  DefaultSettleCap,
		grace:      DefaultInterruptGrace,
		detector:   d,
		logger:     lg.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transport returns the transport the runner drives.
func (r *Runner) Transport() transport.Transport { return r.tr }

// Run sends req.Command and waits for the prompt. A timeout is reported in
// the result status, not as an error. Errors are returned for invalid
// requests, a concurrent call, a cancelled context and a transport that
// failed to write or stopped delivering input.
func (r *Runner) Run(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	detector := r.detector
	if req.Prompt != "" {
		d, err := NewDetector(req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt: %w", err)
		}
		detector = d
	}
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	logger := r.logger.With(lg.String("transport", r.tr.ID()))

	r.buf.Reset()
	r.tr.Drain()
	if err := r.tr.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	line := strings.TrimRightFunc(req.Command, unicode.IsSpace) + r.lineEnding
	start := time.Now()
	if err := r.tr.Write([]byte(line)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	logger.Info("send command", lg.String("cmd", req.Command), lg.Duration("timeout", req.Timeout))
	logger.Info("****** return messages start ******")

	res := &CommandResult{Status: Success}
	if req.NoEcho {
		if err := sleep(ctx, req.Timeout); err != nil {
			return nil, err
		}
	} else {
		status, err := r.poll(ctx, req.Timeout, detector, start, logger)
		if err != nil {
			return nil, err
		}
		res.Status = status
		res.Log = normalize.Clean(r.buf.Bytes())
		logger.Info(res.Log)
		res.Matches = Extract(res.Log, req, logger)
		if status == TimedOut {
			logger.Warn("command timed out", lg.String("cmd", req.Command))
			if IsForeground(req.Command) {
				r.interrupt(ctx, logger)
			}
		}
	}
	res.Elapsed = time.Since(start)
	logger.Info("****** return messages end ******")
	logger.Info("command finished",
		lg.String("status", res.Status.String()), lg.Duration("elapsed", res.Elapsed))
	return res, nil
}

// poll reads the transport every tick until the prompt is seen after the
// settle floor or the timeout passes.
func (r *Runner) poll(ctx context.Context, timeout time.Duration, d *Detector, start time.Time, logger lg.Logger) (Status, error) {
	settle := min(r.settleCap, timeout)
	for {
		if err := sleep(ctx, r.tick); err != nil {
			return TimedOut, err
		}
		r.readAll(logger)
		if err := r.tr.Err(); err != nil && r.tr.Pending() == 0 {
			if d.Done(&r.buf) {
				return Success, nil
			}
			logger.Error("transport stopped during command", lg.Err(err))
			return TimedOut, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			if d.Done(&r.buf) {
				return Success, nil
			}
			return TimedOut, nil
		}
		if elapsed >= settle && d.Done(&r.buf) {
			return Success, nil
		}
	}
}

func (r *Runner) readAll(logger lg.Logger) {
	for r.tr.Pending() > 0 {
		chunk := r.tr.ReadAvailable(MaxChunk)
		if len(chunk) == 0 {
			return
		}
		r.buf.Append(chunk)
		logger.Debug("read", lg.Int("bytes", len(chunk)))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
