// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
)

// UploadAdapter is the passive driver behind direct uploads: the HTTP
// upload endpoints place files into the staging directory and insert import
// records directly, and Scan is the same tree walk as the local adapter so
// a manual sync picks up anything dropped in out of band.
type UploadAdapter struct {
	*LocalAdapter
	dir string
}

// NewUploadAdapter builds the upload adapter over the staging directory.
func NewUploadAdapter(dir string, logger *zap.Logger) *UploadAdapter {
	return &UploadAdapter{
		LocalAdapter: NewLocalAdapter(logger.Named("upload")),
		dir:          dir,
	}
}

// Name implements Adapter.
func (a *UploadAdapter) Name() string { return "upload" }

// Dir returns the upload staging directory.
func (a *UploadAdapter) Dir() string { return a.dir }

// CleanupStale removes staged upload files older than maxAge whose import
// records have been processed or abandoned. Returns the number removed.
func (a *UploadAdapter) CleanupStale(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Watcher observes the upload staging directory and registers a PENDING
// import record for every file that appears, so out-of-band drops surface
// without waiting for a manual sync.
type Watcher struct {
	dir      string
	folderID string
	store    *catalog.Store
	log      *zap.Logger
}

// NewWatcher builds the staging watcher bound to the upload source's
// folder id.
func NewWatcher(dir, folderID string, store *catalog.Store, logger *zap.Logger) *Watcher {
	return &Watcher{dir: dir, folderID: folderID, store: store, log: logger.Named("upload.watcher")}
}

// Run watches until the context ends. Newly created files settle for a
// short debounce before their record is written, so half-written uploads
// are not registered mid-copy.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("watching upload staging directory", zap.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
					pending[ev.Name] = time.Now()
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("upload watcher error", zap.Error(err))
		case <-ticker.C:
			for p, seen := range pending {
				if time.Since(seen) < 2*time.Second {
					continue
				}
				delete(pending, p)
				w.register(ctx, p)
			}
		}
	}
}

func (w *Watcher) register(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	rec := &catalog.ImportRecord{
		FolderID:   w.folderID,
		SourcePath: path,
	}
	created, err := w.store.UpsertImportRecord(ctx, w.store.DB(), rec)
	if err != nil {
		w.log.Warn("could not register uploaded file", zap.String("path", path), zap.Error(err))
		return
	}
	if created {
		w.log.Info("registered uploaded file", zap.String("path", path))
	}
}
