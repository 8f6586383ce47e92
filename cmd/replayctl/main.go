package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL string
	verbose   bool
	logger    *zap.Logger
)

func setupLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopmentConfig().Build()
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zapConfig.Build()
}

func defaultServerURL() string {
	if v := os.Getenv("REPLAY_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8001"
}

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "replayctl",
		Short: "Control a running replay daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = setupLogger(verbose)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL(), "replay daemon base URL (or set REPLAY_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(playlistCmd())
	rootCmd.AddCommand(scenariosCmd())
	rootCmd.AddCommand(tailCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
