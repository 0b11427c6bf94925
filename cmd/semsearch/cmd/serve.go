package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketlink/semsearch/internal/config"
	"github.com/marketlink/semsearch/internal/embed"
	"github.com/marketlink/semsearch/internal/index"
	"github.com/marketlink/semsearch/internal/server"
	"github.com/marketlink/semsearch/internal/service"
)

func newServeCmd() *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Long: `Serve the search API over HTTP.

Loads the index from disk, connects to the embedding provider, and
listens for POST /search requests. The index is reloaded automatically
when a new build replaces it on disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if indexPath != "" {
				cfg.Index.Path = indexPath
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&indexPath, "index", "i", "", "Index directory (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := embed.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	opts := indexOptions(cfg)
	idx, err := index.Load(cfg.Index.Path, opts)
	if err != nil {
		return err
	}

	svc, err := service.New(embedder, idx,
		service.WithDefaultK(cfg.Server.DefaultK),
		service.WithEmbedTimeout(cfg.EmbedTimeout()))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	reloader, err := service.NewReloader(cfg.Index.Path, svc, opts)
	if err != nil {
		slog.Warn("reloader_unavailable", slog.String("error", err.Error()))
	} else {
		go reloader.Run(ctx)
		defer func() { _ = reloader.Close() }()
	}

	slog.Info("serve_started",
		slog.String("index", cfg.Index.Path),
		slog.Int("records", idx.Len()),
		slog.String("model", idx.Model()),
		slog.String("backend", idx.Backend()))

	return server.New(svc, cfg.Server).Run(ctx)
}

// indexOptions maps config to index build/load options.
func indexOptions(cfg *config.Config) index.Options {
	return index.Options{
		Backend:      cfg.Index.Backend,
		Model:        cfg.Embeddings.Model,
		HNSWM:        cfg.Index.HNSW.M,
		HNSWEfSearch: cfg.Index.HNSW.EfSearch,
	}
}
