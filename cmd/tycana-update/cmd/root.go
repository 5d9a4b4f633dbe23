package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tycana/releases/internal/config"
	"github.com/tycana/releases/internal/logger"
	"github.com/tycana/releases/internal/service/deploy"
	"github.com/tycana/releases/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel controls logger verbosity.
	logLevel string

	// options collected from command flags.
	options deploy.Options

	// rootCmd represents the base command for installing and upgrading tycana.
	rootCmd = &cobra.Command{
		Use:   "tycana-update",
		Short: "Install or upgrade the tycana binary from the latest published release",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.ConfigPath = configPath

			return deploy.Run(ctx, &options)
		},
	}
)

// Execute runs the tycana-update CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&options.InstallDir, "install-dir", "", "installation directory override")
	rootCmd.Flags().StringVar(&options.TargetVersion, "target-version", "", "deploy a specific release tag instead of the latest")
	rootCmd.Flags().BoolVar(&options.NonInteractive, "non-interactive", false, "never block on a credential prompt")
	rootCmd.Flags().BoolVar(&options.CheckOnly, "check", false, "report whether an update is available, do not deploy")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
