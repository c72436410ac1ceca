package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/normalize"
)

// HostRunner runs commands as local subprocesses. Output is read line by
// line until the process exits or prints a prompt line. A supervisory timer
// terminates the process when the timeout passes.
type HostRunner struct {
	Shell  string
	Prompt *regexp.Regexp
	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace time.Duration
	Logger    lg.Logger
}

// NewHostRunner returns a HostRunner using /bin/sh and DefaultPrompt.
func NewHostRunner(logger lg.Logger) *HostRunner {
	if logger == nil {
		logger = lg.Discard
	}
	return &HostRunner{
		Shell:     "/bin/sh",
		Prompt:    defaultPromptRe,
		KillGrace: DefaultInterruptGrace,
		Logger:    logger,
	}
}

// Run executes req.Command with "sh -c". The status is TimedOut only when
// the supervisory timer had to stop the process.
func (h *HostRunner) Run(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	prompt := h.Prompt
	if req.Prompt != "" {
		re, err := regexp.Compile(req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt: %w", err)
		}
		prompt = re
	}
	logger := h.Logger
	if logger == nil {
		logger = lg.Discard
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	defer pr.Close()

	cmd := exec.CommandContext(ctx, h.Shell, "-c", req.Command)
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)
	logger.Debug("running command", lg.String("cmd", req.Command))
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start %q: %w", req.Command, err)
	}
	pw.Close()

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	if req.WaitTime > 0 {
		_ = sleep(ctx, req.WaitTime)
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(req.Timeout, func() {
		select {
		case <-exited:
			return
		default:
		}
		timedOut.Store(true)
		h.terminate(cmd, exited, logger)
	})

	start := time.Now()
	logger.Info("****** return messages start ******")
	var lines []string
	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(normalize.StripANSI(normalize.Decode(sc.Bytes())), "\r")
		lines = append(lines, line)
		if prompt != nil && line != "" && prompt.MatchString(line) {
			break
		}
	}

	select {
	case <-exited:
		timer.Stop()
	case <-time.After(time.Second):
		// still running after the prompt; the timer stops it later
	}

	res := &CommandResult{Status: Success, Elapsed: time.Since(start)}
	if !req.NoEcho {
		res.Log = strings.Join(lines, "\n")
		logger.Info(res.Log)
		res.Matches = Extract(res.Log, req, logger)
	}
	if timedOut.Load() {
		logger.Warn("command timed out", lg.String("cmd", req.Command))
		res.Status = TimedOut
	}
	logger.Info("****** return messages end ******")
	logger.Info("host command finished",
		lg.String("status", res.Status.String()), lg.Duration("elapsed", res.Elapsed))
	return res, nil
}

// terminate sends SIGTERM and kills the process if it is still running
// after the grace period.
func (h *HostRunner) terminate(cmd *exec.Cmd, exited <-chan struct{}, logger lg.Logger) {
	if err := signalGroup(cmd.Process, syscall.SIGTERM); err != nil {
		logger.Debug("terminate", lg.Err(err))
	}
	select {
	case <-exited:
	case <-time.After(h.KillGrace):
		if err := signalGroup(cmd.Process, syscall.SIGKILL); err != nil {
			logger.Error("kill process", lg.Err(err))
		}
	}
}
