package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marketlink/semsearch/internal/index"
)

// reloadDebounce coalesces the burst of filesystem events an index
// rebuild produces into one reload.
const reloadDebounce = 250 * time.Millisecond

// Reloader watches an index directory and swaps rebuilt indexes into a
// Service. The manifest is the commit marker: it is written last by a
// saver, so a manifest event means the companion files are complete.
// A failed load keeps the previous index serving and only logs.
type Reloader struct {
	dir     string
	svc     *Service
	opts    index.Options
	watcher *fsnotify.Watcher
}

// NewReloader creates a reloader for the index directory dir.
func NewReloader(dir string, svc *Service, opts index.Options) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &Reloader{dir: dir, svc: svc, opts: opts, watcher: watcher}, nil
}

// Run blocks handling events until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	manifestPath := filepath.Join(r.dir, index.ManifestFile)

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Name != manifestPath {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(reloadDebounce)
				pendingC = pending.C
			} else {
				pending.Reset(reloadDebounce)
			}

		case <-pendingC:
			pending = nil
			pendingC = nil
			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("index_watch_error", slog.String("error", err.Error()))
		}
	}
}

// reload loads the index directory and swaps it in.
func (r *Reloader) reload() {
	idx, err := index.Load(r.dir, r.opts)
	if err != nil {
		slog.Error("index_reload_failed",
			slog.String("dir", r.dir),
			slog.String("error", err.Error()))
		return
	}
	if err := r.svc.Swap(idx); err != nil {
		slog.Error("index_swap_rejected", slog.String("error", err.Error()))
		return
	}
	slog.Info("index_reloaded",
		slog.String("dir", r.dir),
		slog.Int("records", idx.Len()))
}

// Close stops watching.
func (r *Reloader) Close() error {
	return r.watcher.Close()
}
