// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/profiles"
)

// LocalAdapter imports designs from a folder tree on the node's own disk.
// There is no cursor: every scan re-walks the tree and the import-record
// uniqueness makes repeats idempotent.
type LocalAdapter struct {
	log *zap.Logger
}

// NewLocalAdapter builds the local-folder adapter.
func NewLocalAdapter(logger *zap.Logger) *LocalAdapter {
	return &LocalAdapter{log: logger.Named("local")}
}

// Name implements Adapter.
func (a *LocalAdapter) Name() string { return "local" }

// Scan walks the folder's tree to the configured depth and emits one item
// per profile-detected design.
func (a *LocalAdapter) Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (int64, error) {
	if req.Folder == nil || req.Profile == nil {
		return 0, cerrors.E(cerrors.KindValidation, "local scan needs a folder and a profile")
	}
	root := req.Folder.Location
	info, err := os.Stat(root)
	if err != nil {
		return 0, cerrors.Ef(cerrors.KindNotFound, "local folder %q not found", root)
	}
	if !info.IsDir() {
		return 0, cerrors.Ef(cerrors.KindValidation, "local source %q is not a directory", root)
	}
	entries, err := WalkTree(root, req.Folder.MaxDepth)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 0, emitDetected(entries, req, emit)
}

// WalkTree lists a local tree as profile entries, paths relative to root
// with '/' separators, fetch refs absolute. maxDepth <= 0 means unlimited.
func WalkTree(root string, maxDepth int) ([]profiles.Entry, error) {
	var out []profiles.Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if maxDepth > 0 && strings.Count(rel, "/")+1 > maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		e := profiles.Entry{Path: rel, IsDir: d.IsDir(), FetchRef: p}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindPermanent, "walk local tree", err)
	}
	return out, nil
}

// FetchBytes implements Adapter; fetchRef is an absolute path.
func (a *LocalAdapter) FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error) {
	f, err := os.Open(fetchRef)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, cerrors.Ef(cerrors.KindNotFound, "local file %q not found", fetchRef)
		}
		return nil, 0, cerrors.Wrap(cerrors.KindPermanent, "open local file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, cerrors.Wrap(cerrors.KindPermanent, "stat local file", err)
	}
	return f, info.Size(), nil
}

// Probe implements Adapter. Local disks are always reachable.
func (a *LocalAdapter) Probe(context.Context) error { return nil }
