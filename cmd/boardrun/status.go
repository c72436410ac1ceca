package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
)

func newStatusCmd(root *rootFlags) *cobra.Command {
	var jsonPath string
	cmd := &cobra.Command{
		Use:   "status [DEVICE...]",
		Short: "Check devices and print FREE, BUSY, UNAVAILABLE, BAD_SSH or NOT_IN_LINUX",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			list, err := e.devices(args)
			if err != nil {
				return err
			}
			states := make([]device.State, len(list))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, dc := range list {
				g.Go(func() error {
					st, err := device.Check(ctx, dc, e.logger, e.cfg.Runner.Options()...)
					if err != nil {
						e.logger.Warn("status check failed", lg.String("device", dc.Name), lg.Err(err))
					}
					states[i] = st
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			byName := make(map[string]string, len(list))
			for i, dc := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", dc.Name, states[i])
				byName[dc.Name] = states[i].String()
			}
			if jsonPath != "" {
				return report.WriteJSON(byName, jsonPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonPath, "json", "", "also write the states to this file as a JSON object")
	return cmd
}

func newIPCmd(root *rootFlags) *cobra.Command {
	var (
		name   string
		reboot bool
	)
	cmd := &cobra.Command{
		Use:   "ip",
		Short: "Print the address a board reports for eth0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			dev, err := e.open(ctx, name)
			if err != nil {
				return err
			}
			defer dev.Close()

			var ip string
			if reboot {
				ip, err = dev.Reboot(ctx)
			} else {
				ip, err = dev.IP(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "device", "d", "", "device name")
	cmd.Flags().BoolVar(&reboot, "reboot", false, "reboot the board first and wait for DHCP")
	return cmd
}

