// Package device owns the connection to one board and the runner that
// executes commands on it.
package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/runner"
	"github.com/andrej220/boardrun/internal/transport"
)

// DefaultIPCommand prints the eth0 address line on the boards.
const DefaultIPCommand = "ifconfig eth0 | grep 'inet addr:'"

const ipAttempts = 3

var (
	ipPattern = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

	// ErrNoIP is returned when the board reports no address.
	ErrNoIP = errors.New("no ip address")
)

// Executor runs one command and reports how it ended.
type Executor interface {
	Run(ctx context.Context, req runner.CommandRequest) (*runner.CommandResult, error)
}

// Device is one board. The transport is opened when the device is created
// and belongs to it until Close.
type Device struct {
	cfg    Config
	tr     transport.Transport
	exec   Executor
	dialer *transport.Dialer
	logger lg.Logger
}

// Open connects to the device described by cfg. The transport variant is
// chosen here once; ropts tune the command runner.
func Open(ctx context.Context, cfg Config, logger lg.Logger, ropts ...runner.Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("device config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = lg.Discard
	}
	logger = logger.With(lg.String("device", cfg.Name), lg.String("kind", string(cfg.Kind)))

	d := &Device{cfg: cfg, logger: logger}
	var err error
	switch cfg.Kind {
	case KindSerial:
		d.tr, err = transport.OpenSerial(cfg.Serial, logger)
	case KindSSH:
		d.dialer = transport.NewDialer(cfg.SSH, logger)
		d.tr, err = transport.OpenSSH(ctx, d.dialer)
	case KindLocal:
		d.tr, err = transport.OpenLocal(cfg.Local, logger)
	case KindHost:
		h := runner.NewHostRunner(logger)
		if cfg.Prompt != "" {
			if h.Prompt, err = regexp.Compile(cfg.Prompt); err != nil {
				return nil, fmt.Errorf("device %q prompt: %w", cfg.Name, err)
			}
		}
		d.exec = h
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	if d.exec, err = newRunner(cfg, d.tr, logger, ropts); err != nil {
		_ = d.tr.Close()
		return nil, err
	}
	return d, nil
}

func newRunner(cfg Config, tr transport.Transport, logger lg.Logger, ropts []runner.Option) (*runner.Runner, error) {
	det, err := runner.NewDetector(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("device %q prompt: %w", cfg.Name, err)
	}
	lineEnding := "\n"
	if cfg.Kind == KindSerial {
		lineEnding = "\r"
	}
	opts := append([]runner.Option{
		runner.WithLineEnding(lineEnding),
		runner.WithDetector(det),
		runner.WithLogger(logger),
	}, ropts...)
	return runner.New(tr, opts...), nil
}

// New wraps an already open transport.
func New(cfg Config, tr transport.Transport, logger lg.Logger, ropts ...runner.Option) (*Device, error) {
	if logger == nil {
		logger = lg.Discard
	}
	cfg = cfg.WithDefaults()
	r, err := newRunner(cfg, tr, logger, ropts)
	if err != nil {
		return nil, err
	}
	return &Device{cfg: cfg, tr: tr, exec: r, logger: logger}, nil
}

func (d *Device) Name() string { return d.cfg.Name }

func (d *Device) Kind() Kind { return d.cfg.Kind }

func (d *Device) Config() Config { return d.cfg }

// Transport is nil for host devices.
func (d *Device) Transport() transport.Transport { return d.tr }

// Dialer is set for SSH devices only.
func (d *Device) Dialer() *transport.Dialer { return d.dialer }

// Run executes one command.
func (d *Device) Run(ctx context.Context, req runner.CommandRequest) (*runner.CommandResult, error) {
	return d.exec.Run(ctx, req)
}

// Exec runs cmd with timeout and no result pattern.
func (d *Device) Exec(ctx context.Context, cmd string, timeout time.Duration) (*runner.CommandResult, error) {
	return d.Run(ctx, runner.CommandRequest{Command: cmd, Timeout: timeout})
}

// IP asks the board for its address, trying a few times because the
// interface may still be coming up.
func (d *Device) IP(ctx context.Context) (string, error) {
	cmd := d.cfg.IPCommand
	if cmd == "" {
		cmd = DefaultIPCommand
	}
	for attempt := 1; attempt <= ipAttempts; attempt++ {
		res, err := d.Run(ctx, runner.CommandRequest{
			Command:      cmd,
			Timeout:      runner.DefaultTimeout,
			ResultRegexp: ipPattern,
		})
		if err != nil {
			return "", err
		}
		if len(res.Matches) > 0 {
			ip := res.Matches[0].Value()
			d.logger.Info("device ip", lg.String("ip", ip), lg.Int("attempt", attempt))
			return ip, nil
		}
	}
	return "", fmt.Errorf("device %q: %w", d.cfg.Name, ErrNoIP)
}

// Prepare creates the test directory on the board and enters it.
func (d *Device) Prepare(ctx context.Context) (*runner.CommandResult, error) {
	if d.cfg.TestPath == "" {
		return nil, fmt.Errorf("device %q: no test path configured", d.cfg.Name)
	}
	p := d.cfg.TestPath
	return d.Exec(ctx, "mkdir -p "+p+" && cd "+p+" && pwd", 3*time.Second)
}

// Home returns the shell to the home directory.
func (d *Device) Home(ctx context.Context) (*runner.CommandResult, error) {
	return d.Exec(ctx, "cd ~ && pwd", 3*time.Second)
}

// Reboot restarts the board, waits for DHCP and returns the new address.
func (d *Device) Reboot(ctx context.Context) (string, error) {
	if _, err := d.Exec(ctx, "reboot", d.cfg.RebootTimeout); err != nil {
		return "", err
	}
	t := time.NewTimer(d.cfg.DHCPWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
	}
	return d.IP(ctx)
}

// Dmesg returns the kernel log, used to diagnose failed cases.
func (d *Device) Dmesg(ctx context.Context) (string, error) {
	res, err := d.Exec(ctx, "dmesg", 10*time.Second)
	if err != nil {
		return "", err
	}
	return res.Log, nil
}

// Close releases the transport.
func (d *Device) Close() error {
	if d.tr == nil {
		return nil
	}
	return d.tr.Close()
}

func lastLine(log string) string {
	log = strings.TrimRight(log, "\n")
	if i := strings.LastIndexByte(log, '\n'); i >= 0 {
		return log[i+1:]
	}
	return log
}
