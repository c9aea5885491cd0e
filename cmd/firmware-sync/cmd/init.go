package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
)

var errSettingsExist = errors.New("settings file already exists, use --force to overwrite")

func newInitCmd() *cobra.Command {
	var (
		force    bool
		settings = config.Default()
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s: %w", configPath, errSettingsExist)
			}

			// The manifest follows a relocated asset directory unless set explicitly.
			if cmd.Flags().Changed("asset-dir") && !cmd.Flags().Changed("manifest") {
				settings.ManifestFile = filepath.Join(settings.AssetDir, config.DefaultManifestFilename)
			}

			if err := config.Save(configPath, settings); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Settings written to", configPath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	cmd.Flags().StringVar(&settings.Owner, "owner", settings.Owner, "GitHub repository owner")
	cmd.Flags().StringVar(&settings.Repo, "repo", settings.Repo, "GitHub repository name")
	cmd.Flags().StringVar(&settings.AssetDir, "asset-dir", settings.AssetDir, "directory receiving firmware binaries")
	cmd.Flags().StringVar(&settings.ManifestFile, "manifest", settings.ManifestFile, "path of the manifest file")
	cmd.Flags().IntVar(&settings.MaxPages, "max-pages", settings.MaxPages, "number of release pages to read, 0 for all")

	return cmd
}
