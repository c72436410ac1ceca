package cases

import (
	"context"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/runner"
)

const dmesgTimeout = 10 * time.Second

// Verdict reasons.
const (
	ReasonPassed  = "passed"
	ReasonNoLog   = "no output, check the device"
	ReasonTimeout = "timeout"
	ReasonNoMatch = "check_res not found"
)

// Executor runs commands on a device.
type Executor interface {
	Run(ctx context.Context, req runner.CommandRequest) (*runner.CommandResult, error)
}

// Outcome is the verdict for one case.
type Outcome struct {
	Case   Case                  `json:"case"`
	Result *runner.CommandResult `json:"result"`
	Passed bool                  `json:"passed"`
	Reason string                `json:"reason"`
	// Dmesg holds the kernel log collected after a failed check.
	Dmesg string `json:"dmesg,omitempty"`
}

// Run executes the cases one after another. A case passes when its check
// pattern matched, even if the prompt never came back. For a failed case the
// reason tells why and the kernel log is attached. Only runner errors stop
// the run.
func Run(ctx context.Context, exec Executor, list []Case, logger lg.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = lg.Discard
	}
	out := make([]Outcome, 0, len(list))
	for _, c := range list {
		res, err := exec.Run(ctx, runner.CommandRequest{
			Command:       c.Command,
			Timeout:       c.Timeout(),
			ResultPattern: c.Check,
		})
		if err != nil {
			return out, err
		}
		o := Outcome{Case: c, Result: res}
		switch {
		case len(res.Matches) > 0:
			o.Passed = true
			o.Reason = ReasonPassed
		case res.Log == "":
			o.Reason = ReasonNoLog
		case res.Status == runner.TimedOut:
			o.Reason = ReasonTimeout
		default:
			o.Reason = ReasonNoMatch
		}
		if !o.Passed {
			if dm, err := exec.Run(ctx, runner.CommandRequest{Command: "dmesg", Timeout: dmesgTimeout}); err == nil {
				o.Dmesg = dm.Log
			}
		}
		if o.Passed {
			logger.Info("case passed", lg.String("case", c.Command))
		} else {
			logger.Warn("case failed", lg.String("case", c.Command), lg.String("reason", o.Reason))
		}
		out = append(out, o)
	}
	return out, nil
}

// Summary counts passed and failed outcomes.
func Summary(outcomes []Outcome) (passed, failed int) {
	for _, o := range outcomes {
		if o.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
