package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/boardrun/internal/cases"
	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
	"github.com/andrej220/boardrun/internal/workspace"
	"github.com/andrej220/boardrun/pkg/config/filestore"
)

type casesFlags struct {
	marker  string
	devices []string
	vars    []string
	prepare bool
	watch   bool
}

func newCasesCmd(root *rootFlags) *cobra.Command {
	flags := &casesFlags{}
	cmd := &cobra.Command{
		Use:   "cases FILE",
		Short: "Run a case table against one or more devices",
		Long: `Run the cases listed under a marker of a YAML case table. Each device
runs the cases in order; devices run in parallel. With --watch the table
is re-run whenever the file changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			vars, err := parseVars(flags.vars)
			if err != nil {
				return err
			}
			list, err := e.devices(flags.devices)
			if err != nil {
				return err
			}
			reg := workspace.NewRegistry(e.cfg.Workspace.Root, e.logger)
			defer func() {
				for _, id := range reg.IDs() {
					if err := reg.Release(id, e.cfg.Workspace.Clean); err != nil {
						e.logger.Warn("release workspace", lg.String("module", id), lg.Err(err))
					}
				}
			}()

			run := func(ctx context.Context) error {
				return runCases(ctx, cmd, e, reg, list, args[0], flags.marker, vars, flags.prepare)
			}
			if !flags.watch {
				return run(cmd.Context())
			}
			return watchCases(cmd.Context(), e, args[0], run)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.marker, "marker", "m", "", "case group to run")
	f.StringSliceVarP(&flags.devices, "device", "d", nil, "devices to run on (default all)")
	f.StringArrayVar(&flags.vars, "var", nil, "substitute ${KEY} in cases, as KEY=VALUE")
	f.BoolVar(&flags.prepare, "prepare", false, "enter the device test path before the first case")
	f.BoolVarP(&flags.watch, "watch", "w", false, "re-run when the case file changes")
	_ = cmd.MarkFlagRequired("marker")
	return cmd
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want KEY=VALUE", p)
		}
		vars[k] = v
	}
	return vars, nil
}

func runCases(ctx context.Context, cmd *cobra.Command, e *env, reg *workspace.Registry,
	list []device.Config, path, marker string, vars map[string]string, prepare bool) error {
	table, err := cases.Load(path)
	if err != nil {
		return err
	}
	selected, err := table.Cases(marker)
	if err != nil {
		return err
	}
	selected = cases.Expand(selected, vars)

	ws, err := reg.Ensure(marker, path)
	if err != nil {
		return err
	}
	runID := report.NewRunID()
	logger := e.logger.With(lg.String("run_id", runID), lg.String("marker", marker), lg.String("workspace", ws.Path))

	// devices are independent: one that fails does not stop the others
	var (
		mu      sync.Mutex
		records []report.Record
		errs    []error
		g       errgroup.Group
	)
	for _, dc := range list {
		g.Go(func() error {
			outcomes, err := runOnDevice(ctx, e, dc, selected, prepare, logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("device %q: %w", dc.Name, err))
			}
			for _, o := range outcomes {
				records = append(records, report.FromOutcome(runID, dc.Name, marker, o))
			}
			passed, failed := cases.Summary(outcomes)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpassed=%d failed=%d\n", dc.Name, marker, passed, failed)
			for _, o := range outcomes {
				if !o.Passed {
					fmt.Fprintf(cmd.OutOrStdout(), "  FAIL %q: %s\n", o.Case.Command, o.Reason)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := writeRecords(ctx, e, records...); err != nil {
		logger.Error("report failed", lg.Err(err))
	}
	return errors.Join(errs...)
}

func runOnDevice(ctx context.Context, e *env, dc device.Config, list []cases.Case, prepare bool, logger lg.Logger) ([]cases.Outcome, error) {
	dev, err := device.Open(ctx, dc, logger, e.cfg.Runner.Options()...)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	if prepare {
		if _, err := dev.Prepare(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if _, err := dev.Home(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("return home", lg.String("device", dc.Name), lg.Err(err))
			}
		}()
	}
	return cases.Run(ctx, dev, list, logger.With(lg.String("device", dc.Name)))
}

// watchCases runs once, then again after every change to path until ctx
// is cancelled. Changes during a run coalesce into one rerun.
func watchCases(ctx context.Context, e *env, path string, run func(context.Context) error) error {
	changed := make(chan struct{}, 1)
	err := filestore.New(path).Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, e.logger)
	if err != nil {
		return err
	}

	for {
		if err := run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("case run failed", lg.String("file", path), lg.Err(err))
		}
		e.logger.Info("waiting for changes", lg.String("file", path))
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
