package device

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/runner"
)

// State is the availability of a board for testing.
type State int

const (
	Free State = iota
	Busy
	Unavailable
	// BadSSH means the shell answers but the board has no address.
	BadSSH
	// NotInLinux means something answers that is not the Linux prompt,
	// e.g. a bootloader.
	NotInLinux
)

var stateNames = [...]string{"FREE", "BUSY", "UNAVAILABLE", "BAD_SSH", "NOT_IN_LINUX"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const statusTimeout = time.Second

// Status checks an open device with an empty command.
func (d *Device) Status(ctx context.Context) (State, error) {
	res, err := d.Run(ctx, runner.CommandRequest{Command: " ", Timeout: statusTimeout})
	if err != nil {
		if errors.Is(err, runner.ErrBusy) {
			return Busy, nil
		}
		return Unavailable, err
	}
	// A board at another prompt (U-Boot, a login) never shows the Linux
	// prompt, so the verdict rests on the output alone and not on Status.
	state := Unavailable
	if strings.TrimSpace(res.Log) != "" {
		state = Free
		if !d.promptRe().MatchString(lastLine(res.Log)) {
			state = NotInLinux
		}
	}
	if state == Free {
		if _, err := d.IP(ctx); err != nil {
			if !errors.Is(err, ErrNoIP) {
				return Unavailable, err
			}
			state = BadSSH
		}
	}
	d.logger.Info("device status", lg.String("status", state.String()))
	return state, nil
}

// Check opens the device, reads its status and closes it again. A device
// that cannot be opened is reported as Busy: another session holds it.
func Check(ctx context.Context, cfg Config, logger lg.Logger, ropts ...runner.Option) (State, error) {
	d, err := Open(ctx, cfg, logger, ropts...)
	if err != nil {
		return Busy, err
	}
	defer d.Close()
	return d.Status(ctx)
}

func (d *Device) promptRe() *regexp.Regexp {
	if d.cfg.Prompt != "" {
		if re, err := regexp.Compile(d.cfg.Prompt); err == nil {
			return re
		}
	}
	return regexp.MustCompile(runner.DefaultPrompt)
}
