package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketlink/semsearch/internal/builder"
	"github.com/marketlink/semsearch/internal/embed"
)

func newBuildCmd() *cobra.Command {
	var source string
	var output string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the search index from a listings file",
		Long: `Build the search index from a JSONL listings file.

Each line is one listing object with an "id" field plus arbitrary
string fields. The configured compose rule flattens the fields into
the text that gets embedded.

The index is written atomically: a serving process picks up the new
index without restarting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if source != "" {
				cfg.Builder.Source = source
			}
			if output != "" {
				cfg.Index.Path = output
			}
			if cfg.Builder.Source == "" {
				return fmt.Errorf("no source file: set --source or builder.source in config")
			}

			start := time.Now()
			ctx := cmd.Context()

			embedder, err := embed.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			src, err := builder.NewJSONLSource(cfg.Builder.Source)
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			b, err := builder.New(
				builder.WithEmbedder(embedder),
				builder.WithComposeRule(cfg.Builder.Compose),
				builder.WithBatchSize(cfg.Embeddings.BatchSize),
				builder.WithWorkers(cfg.Builder.Workers),
				builder.WithIndexOptions(indexOptions(cfg)),
			)
			if err != nil {
				return err
			}

			idx, err := b.Build(ctx, src)
			if err != nil {
				return err
			}

			if err := idx.Save(cfg.Index.Path); err != nil {
				return err
			}

			slog.Info("build_complete",
				slog.Int("records", idx.Len()),
				slog.Int("dimensions", idx.Dimensions()),
				slog.Duration("elapsed", time.Since(start)))

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d listings (%d dimensions) in %s\n",
				idx.Len(), idx.Dimensions(), time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(cmd.OutOrStdout(), "Index written to %s\n", cfg.Index.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "JSONL listings file (overrides config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Index directory (overrides config)")

	return cmd
}
