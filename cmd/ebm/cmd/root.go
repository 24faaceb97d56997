package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ebm/app"
	"github.com/jmcleod/ebm/config"
	"github.com/jmcleod/ebm/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "ebm",
	Short: "ebm resolves navigation, feature flags and organization context",
	Long: `ebm keeps the navigation tree, feature flags and organization context of
a signed-in user in sync with the backend, with offline fallbacks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		logger, logCloser, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file")
	rootCmd.Version = Version
}

// startApp opens the client and runs its start-up sequence.
func startApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening client: %w", err)
	}
	a.Start(ctx)
	return a, nil
}
