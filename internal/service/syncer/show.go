package syncer

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/repository/manifest"
)

// ShowOptions are inputs accepted by Show.
type ShowOptions struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// LogLevel overrides the log_level setting when not empty.
	LogLevel string
}

// Show prints the releases recorded in the current manifest to w.
func Show(ctx context.Context, opts *ShowOptions, w io.Writer) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	applyLogLevel(ctx, cfg, opts.LogLevel)

	current, err := manifest.NewFileRepository(cfg.ManifestFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.ManifestFile, err)
	}

	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(table, "TAG\tCOMMIT\tPUBLISHED\tFILENAME")

	for _, r := range current.Releases {
		published := "-"
		if !r.PublishDate.IsZero() {
			published = r.PublishDate.UTC().Format(time.DateOnly)
		}

		_, _ = fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", r.Tag, r.Commit, published, r.Filename)
	}

	return table.Flush()
}
