package runner

import (
	"errors"
	"sync"
	"time"
)

const testPrompt = "[root@cvitek]~# "

// step is output the fake device produces some time after a command.
type step struct {
	after time.Duration
	data  string
}

// fakeTransport is a scripted device. Every segment of output is returned
// by its own ReadAvailable call so tests control chunk boundaries.
type fakeTransport struct {
	mu         sync.Mutex
	segments   [][]byte
	writes     []string
	interrupts int
	drains     int
	writeErr   error
	readErr    error
	respond    func(cmd string) []step
	onCtrlC    string
}

func newFake(respond func(cmd string) []step) *fakeTransport {
	return &fakeTransport{respond: respond}
}

func (f *fakeTransport) ID() string { return "fake" }

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, string(p))
	if f.respond == nil {
		return nil
	}
	for _, s := range f.respond(string(p)) {
		time.AfterFunc(s.after, func() { f.push(s.data) })
	}
	return nil
}

func (f *fakeTransport) push(data string) {
	f.mu.Lock()
	f.segments = append(f.segments, []byte(data))
	f.mu.Unlock()
}

func (f *fakeTransport) ReadAvailable(max int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.segments) == 0 {
		return nil
	}
	seg := f.segments[0]
	if len(seg) > max {
		f.segments[0] = seg[max:]
		return seg[:max]
	}
	f.segments = f.segments[1:]
	return seg
}

func (f *fakeTransport) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.segments {
		n += len(s)
	}
	return n
}

func (f *fakeTransport) Drain() {
	f.mu.Lock()
	f.segments = nil
	f.drains++
	f.mu.Unlock()
}

func (f *fakeTransport) Interrupt() error {
	f.mu.Lock()
	f.interrupts++
	reply := f.onCtrlC
	f.mu.Unlock()
	if reply != "" {
		f.push(reply)
	}
	return nil
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

// fail makes the fake behave like a device whose output stream ended.
func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

var errBrokenPipe = errors.New("broken pipe")

// echoShell echoes the command, prints out and returns to the prompt.
func echoShell(out string) func(string) []step {
	return func(cmd string) []step {
		return []step{
			{after: 5 * time.Millisecond, data: cmd + "\n"},
			{after: 15 * time.Millisecond, data: out},
			{after: 25 * time.Millisecond, data: testPrompt},
		}
	}
}

// hangingShell echoes the command and then prints nothing.
func hangingShell(cmd string) []step {
	return []step{{after: 5 * time.Millisecond, data: cmd + "\n"}}
}

func fastOptions(opts ...Option) []Option {
	return append([]Option{
		WithTick(5 * time.Millisecond),
		WithSettleCap(50 * time.Millisecond),
		WithInterruptGrace(10 * time.Millisecond),
	}, opts...)
}
