package main

import (
	"log/slog"

	"github.com/openmined/s3paste/internal/config"
	"github.com/openmined/s3paste/internal/version"
	"github.com/openmined/s3paste/internal/watch"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Drain the upload queue, one item per tick, until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mustConfig(true)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			s, err := newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.close()

			if once {
				return s.pipeline.ProcessOne(cmd.Context())
			}

			showHeader()
			slog.Info("s3paste", "version", version.Version, "revision", version.Revision, "config", cfg.Path)

			s.pipeline.Start(cmd.Context())
			defer s.pipeline.Stop()

			// uploads enqueued by other processes are picked up without waiting for the next tick
			if cfg.Queue.Backend == config.QueueBackendFile {
				watcher := watch.NewFileWatcher(cfg.Queue.Path, s.pipeline.Kick)
				if err := watcher.Start(cmd.Context()); err != nil {
					slog.Warn("queue watcher disabled", "error", err)
				} else {
					defer watcher.Stop()
				}
			}

			<-cmd.Context().Done()

			slog.Info("Bye!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process the head of the queue once and exit")
	return cmd
}
