package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
	"github.com/andrej220/boardrun/internal/runner"
)

type execFlags struct {
	device  string
	timeout time.Duration
	prompt  string
	pattern string
	noEcho  bool
	wait    time.Duration
}

func newExecCmd(root *rootFlags) *cobra.Command {
	flags := &execFlags{}
	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Run one command on a device and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck
			return runExec(cmd, e, flags, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.device, "device", "d", "", "device name (optional with a single device)")
	f.DurationVarP(&flags.timeout, "timeout", "t", runner.DefaultTimeout, "how long to wait for the prompt")
	f.StringVar(&flags.prompt, "prompt", "", "prompt regexp overriding the device prompt")
	f.StringVarP(&flags.pattern, "pattern", "p", "", "regexp extracted from the output")
	f.BoolVar(&flags.noEcho, "no-echo", false, "do not collect output, just wait for the timeout")
	f.DurationVar(&flags.wait, "wait", 0, "delay before a host command starts")
	return cmd
}

func runExec(cmd *cobra.Command, e *env, flags *execFlags, command string) error {
	ctx := cmd.Context()
	dev, err := e.open(ctx, flags.device)
	if err != nil {
		return err
	}
	defer dev.Close()

	req := runner.CommandRequest{
		Command:       command,
		Timeout:       flags.timeout,
		Prompt:        flags.prompt,
		ResultPattern: flags.pattern,
		NoEcho:        flags.noEcho,
		WaitTime:      flags.wait,
	}
	res, err := dev.Run(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, res.Log)
	if !strings.HasSuffix(res.Log, "\n") && res.Log != "" {
		fmt.Fprintln(out)
	}
	for _, v := range res.Values() {
		fmt.Fprintf(out, "match: %s\n", v)
	}
	fmt.Fprintf(out, "status: %s (%d) in %s\n", res.Status, res.Status.Code(), res.Elapsed.Round(time.Millisecond))

	rec := report.FromResult(report.NewRunID(), dev.Name(), command, res)
	return writeRecords(ctx, e, rec)
}

// writeRecords sends records to every configured sink.
func writeRecords(ctx context.Context, e *env, records ...report.Record) error {
	sink, err := report.Open(ctx, e.cfg.Report, e.logger)
	if err != nil {
		return fmt.Errorf("open report sinks: %w", err)
	}
	werr := sink.Write(ctx, records...)
	if werr != nil {
		e.logger.Error("report write failed", lg.Err(werr), lg.Int("records", len(records)))
	}
	return errors.Join(werr, sink.Close())
}
