package cases

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/boardrun/internal/runner"
)

// scripted answers each command with a fixed log and status.
type scripted struct {
	logs   map[string]string
	status map[string]runner.Status
	err    error
	seen   []string
}

func (s *scripted) Run(_ context.Context, req runner.CommandRequest) (*runner.CommandResult, error) {
	s.seen = append(s.seen, req.Command)
	if s.err != nil {
		return nil, s.err
	}
	log := s.logs[req.Command]
	res := &runner.CommandResult{Log: log, Status: s.status[req.Command]}
	if req.ResultPattern != "" {
		res.Matches = runner.FindAll(regexp.MustCompile(req.ResultPattern), log)
	}
	return res, nil
}

func TestRunVerdicts(t *testing.T) {
	exec := &scripted{
		logs: map[string]string{
			"./ok":     "./ok\nresult: PASS\n[root@cvitek]~# ",
			"./fail":   "./fail\nresult: FAIL\n[root@cvitek]~# ",
			"./hang":   "./hang\nstarting",
			"dmesg":    "[  1.0] vi: timeout waiting for frame",
			"./silent": "",
		},
		status: map[string]runner.Status{"./hang": runner.TimedOut},
	}
	list := []Case{
		{Command: "./ok", Check: "PASS", Runtime: 1},
		{Command: "./fail", Check: "PASS", Runtime: 1},
		{Command: "./hang", Check: "PASS", Runtime: 1},
		{Command: "./silent", Check: "PASS", Runtime: 1},
	}

	out, err := Run(context.Background(), exec, list, nil)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.True(t, out[0].Passed)
	assert.Equal(t, ReasonPassed, out[0].Reason)
	assert.Empty(t, out[0].Dmesg)

	assert.False(t, out[1].Passed)
	assert.Equal(t, ReasonNoMatch, out[1].Reason)
	assert.Contains(t, out[1].Dmesg, "timeout waiting for frame")

	assert.Equal(t, ReasonTimeout, out[2].Reason)
	assert.Contains(t, out[2].Dmesg, "timeout waiting for frame")
	assert.Equal(t, ReasonNoLog, out[3].Reason)
	assert.Contains(t, out[3].Dmesg, "timeout waiting for frame")

	assert.Equal(t, []string{"./ok", "./fail", "dmesg", "./hang", "dmesg", "./silent", "dmesg"}, exec.seen)

	passed, failed := Summary(out)
	assert.Equal(t, 1, passed)
	assert.Equal(t, 3, failed)
}

func TestRunMatchWinsOverTimeout(t *testing.T) {
	exec := &scripted{
		logs:   map[string]string{"./sample_audio": "./sample_audio\naudio PASS\nrunning"},
		status: map[string]runner.Status{"./sample_audio": runner.TimedOut},
	}
	out, err := Run(context.Background(), exec, []Case{{Command: "./sample_audio", Check: "PASS", Runtime: 1}}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.True(t, out[0].Passed)
	assert.Equal(t, ReasonPassed, out[0].Reason)
	assert.Equal(t, runner.TimedOut, out[0].Result.Status)
	assert.Equal(t, []string{"./sample_audio"}, exec.seen)
}

func TestRunStopsOnRunnerError(t *testing.T) {
	exec := &scripted{err: runner.ErrTransport}
	out, err := Run(context.Background(), exec, []Case{{Command: "ls", Check: "x"}}, nil)
	assert.True(t, errors.Is(err, runner.ErrTransport))
	assert.Empty(t, out)
}
