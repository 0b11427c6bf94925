package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketlink/semsearch/internal/embed"
	"github.com/marketlink/semsearch/internal/index"
	"github.com/marketlink/semsearch/internal/service"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var format string
	var indexPath string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index from the command line",
		Long: `Search the index from the command line without starting a server.

Examples:
  semsearch search "fresh vegetables"
  semsearch search "laptop repair" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if indexPath != "" {
				cfg.Index.Path = indexPath
			}

			query := strings.Join(args, " ")
			ctx := cmd.Context()

			embedder, err := embed.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			idx, err := index.Load(cfg.Index.Path, indexOptions(cfg))
			if err != nil {
				return err
			}

			svc, err := service.New(embedder, idx,
				service.WithDefaultK(cfg.Server.DefaultK),
				service.WithEmbedTimeout(cfg.EmbedTimeout()))
			if err != nil {
				return err
			}

			results, err := svc.Search(ctx, service.Request{Text: query, K: limit})
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No results for %q\n", query)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Found %d results for %q:\n\n", len(results), query)
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (score: %.3f)\n", i+1, r.ID, r.Score)
				fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", r.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVarP(&indexPath, "index", "i", "", "Index directory (overrides config)")

	return cmd
}
