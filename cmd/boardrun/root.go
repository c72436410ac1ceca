package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/pkg/config"
)

const defaultConfigPath = "boardrun.yaml"

type rootFlags struct {
	configPath string
	debug      bool
	logFormat  string
}

// env is what every subcommand needs after flags are parsed.
type env struct {
	cfg    *config.File
	logger lg.Logger
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "boardrun",
		Short: "Run commands on embedded Linux boards",
		Long: `boardrun sends shell commands to boards reached over a serial line,
an SSH session or a local shell, and decides when each command finished
by watching for the shell prompt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to the configuration file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log encoding (json|console)")

	root.AddCommand(
		newExecCmd(flags),
		newStatusCmd(flags),
		newIPCmd(flags),
		newCasesCmd(flags),
		newUploadCmd(flags),
		newServeCmd(flags),
	)
	return root
}

func (f *rootFlags) load() (*env, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.debug {
		cfg.Logging.Debug = true
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return &env{cfg: cfg, logger: lg.New(&cfg.Logging)}, nil
}

func (e *env) open(ctx context.Context, name string) (*device.Device, error) {
	dc, err := e.cfg.Device(name)
	if err != nil {
		return nil, err
	}
	return device.Open(ctx, dc, e.logger, e.cfg.Runner.Options()...)
}

// devices returns the named devices, or all of them when names is empty.
func (e *env) devices(names []string) ([]device.Config, error) {
	if len(names) == 0 {
		if len(e.cfg.Devices) == 0 {
			return nil, errors.New("no devices configured")
		}
		return e.cfg.Devices, nil
	}
	out := make([]device.Config, 0, len(names))
	for _, n := range names {
		dc, err := e.cfg.Device(n)
		if err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, nil
}
