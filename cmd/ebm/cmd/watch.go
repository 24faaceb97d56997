package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ebm/orgctx"
	"github.com/jmcleod/ebm/syncer"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the context in sync until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		unsubscribe := a.Sync.Subscribe(func(s syncer.Status) {
			logger.Info("sync status",
				slog.Bool("online", s.Online),
				slog.Bool("syncing", s.Syncing),
				slog.Time("last_sync", s.LastSync))
		})
		defer unsubscribe()
		unsubscribeOrg := a.Orgs.Subscribe(func(s orgctx.State) {
			logger.Info("organization context", slog.String("phase", s.Phase.String()), slog.String("role", string(s.Role)))
		})
		defer unsubscribeOrg()

		logger.Info("watching", slog.String("api_url", cfg.APIURL), slog.Duration("interval", cfg.Sync.Interval))
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
