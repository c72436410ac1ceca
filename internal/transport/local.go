package transport

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/andrej220/boardrun/internal/lg"
)

// LocalConfig describes a shell started on the host under a PTY.
type LocalConfig struct {
	Shell string   `yaml:"shell" json:"shell"`
	Args  []string `yaml:"args" json:"args"`
	Env   []string `yaml:"env" json:"env"`
	Dir   string   `yaml:"dir" json:"dir"`
}

// Local is a host shell driven the same way as a remote one.
type Local struct {
	cmd    *exec.Cmd
	tty    *os.File
	in     *inbox
	logger lg.Logger

	closeOnce sync.Once
}

var _ Transport = (*Local)(nil)

// OpenLocal starts the configured shell (default /bin/sh) under a PTY.
func OpenLocal(cfg LocalConfig, logger lg.Logger) (*Local, error) {
	if logger == nil {
		logger = lg.Discard
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Dir = cfg.Dir

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("%w: local shell %q: %v", ErrConnection, shell, err)
	}
	l := &Local{
		cmd:    cmd,
		tty:    tty,
		in:     newInbox(),
		logger: logger.With(lg.String("shell", shell), lg.Int("pid", cmd.Process.Pid)),
	}
	l.in.pump(tty)
	l.logger.Info("local shell started")
	return l, nil
}

func (l *Local) ID() string { return fmt.Sprintf("local:%d", l.cmd.Process.Pid) }

func (l *Local) Write(p []byte) error {
	if err := writeFull(l.tty, p); err != nil {
		return fmt.Errorf("%s write: %w", l.ID(), err)
	}
	return nil
}

func (l *Local) ReadAvailable(max int) []byte { return l.in.take(max) }

func (l *Local) Pending() int { return l.in.pending() }

func (l *Local) Err() error { return l.in.failure() }

func (l *Local) Drain() { l.in.reset() }

// Interrupt writes ETX to the PTY; the line discipline turns it into SIGINT
// for the foreground process group.
func (l *Local) Interrupt() error {
	return l.Write([]byte{InterruptByte})
}

func (l *Local) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.cmd.Process.Kill()
		_ = l.cmd.Wait()
		err = l.tty.Close()
		l.logger.Info("local shell closed")
	})
	return err
}
