package cmd

import (
	"github.com/spf13/cobra"

	"github.com/subalpine-circuits/firmware-sync/internal/service/syncer"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the releases recorded in the current manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options := &syncer.ShowOptions{
				ConfigPath: configPath,
				LogLevel:   logLevel,
			}

			return syncer.Show(cmd.Context(), options, cmd.OutOrStdout())
		},
	}
}
