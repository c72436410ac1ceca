package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/transfer"
	"github.com/andrej220/boardrun/internal/transport"
)

func newUploadCmd(root *rootFlags) *cobra.Command {
	var (
		name     string
		attempts int
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload SRC DST",
		Short: "Copy a local file to an SSH device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			dc, err := e.cfg.Device(name)
			if err != nil {
				return err
			}
			if dc.Kind != device.KindSSH {
				return fmt.Errorf("device %q is %s, upload needs ssh", dc.Name, dc.Kind)
			}
			dc = dc.WithDefaults()
			up := transfer.NewUploader(
				transport.NewDialer(dc.SSH, e.logger),
				transfer.WithAttempts(attempts),
				transfer.WithBackoff(wait),
				transfer.WithLogger(e.logger),
			)
			if err := up.Upload(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s:%s\n", args[0], dc.Name, args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "device", "d", "", "device name")
	cmd.Flags().IntVar(&attempts, "attempts", transfer.DefaultAttempts, "upload attempts")
	cmd.Flags().DurationVar(&wait, "backoff", transfer.DefaultBackoff, "wait between attempts")
	return cmd
}
