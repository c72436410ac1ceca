package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/andrej220/boardrun/internal/dispatch"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run command requests consumed from a Kafka topic",
		Long: `Consume JSON requests {"exuid", "device", "request"} from the topic in
the serve section of the configuration, run each on its device and write
the results to the report sinks. Requests for one device run one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck
			if e.cfg.Serve == nil {
				return errors.New("no serve section in config")
			}
			ctx := cmd.Context()
			sc := *e.cfg.Serve

			sink, err := report.Open(ctx, e.cfg.Report, e.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			cons := dispatch.NewConsumer[dispatch.Request](sc)
			defer cons.Close()

			pool := dispatch.NewPool[dispatch.Request](sc.Workers, sc.Attempts, e.logger)
			svc := dispatch.NewService(e.cfg.Devices, sink, pool, e.logger, e.cfg.Runner.Options()...)
			e.logger.Info("serving requests", lg.String("topic", sc.Topic), lg.Any("brokers", sc.Brokers))
			return svc.Serve(ctx, cons)
		},
	}
}
