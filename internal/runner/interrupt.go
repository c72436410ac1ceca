package runner

import (
	"context"
	"strings"

	"github.com/andrej220/boardrun/internal/lg"
)

// InterruptCount is how many interrupt keystrokes a timed out program gets.
const InterruptCount = 2

// IsForeground reports commands that start a program from a relative path,
// which keep the shell busy until they exit.
func IsForeground(cmd string) bool {
	return strings.HasPrefix(strings.TrimSpace(cmd), "./")
}

// interrupt asks the foreground program to stop. Failures are logged only;
// the caller decides how to recover the device.
func (r *Runner) interrupt(ctx context.Context, logger lg.Logger) {
	for range InterruptCount {
		if err := r.tr.Interrupt(); err != nil {
			logger.Error("send interrupt", lg.Err(err))
			return
		}
	}
	_ = sleep(ctx, r.grace)
	logger.Info("sent CTRL+C", lg.Int("count", InterruptCount))
}
