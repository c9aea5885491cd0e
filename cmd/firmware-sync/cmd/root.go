package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/logger"
	"github.com/subalpine-circuits/firmware-sync/internal/service/syncer"
	"github.com/subalpine-circuits/firmware-sync/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the log_level setting.
	logLevel string
	// failFast aborts the whole sync on the first failed release.
	failFast bool

	// rootCmd represents the base command that syncs firmware releases.
	rootCmd = &cobra.Command{
		Use:   version.Name,
		Short: "Sync firmware releases from GitHub into the front-end assets",
		Long: `Downloads the firmware binary of every GitHub release of the configured
repository into the asset directory and writes manifest.json describing them
(id, tag, filename, release notes, publish date, commit).

The API token is read from the environment variable named by token_env
(SUBALPINE_GITHUB_TOKEN by default). Releases that fail are left out of the
manifest and reported; with --fail-fast the first failure aborts the run and
the manifest is not written.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &syncer.Options{
				ConfigPath: configPath,
				FailFast:   failFast,
				LogLevel:   logLevel,
			}

			return syncer.Run(ctx, options)
		},
	}
)

// Execute runs the firmware-sync CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(newShowCmd(), newInitCmd())

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort without writing the manifest when any release fails")
}
