// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package sources holds the per-source ingestion drivers. Every adapter
// translates its upstream's items into the uniform RawItem shape the ingest
// service consumes, and serves the bytes of any file it announced. Wire
// clients (MTProto, drive REST, forum HTTP) are injected interfaces; this
// package owns batching, cursors, detection-profile application and the
// guard rails (rate limit, circuit breaker) around upstream calls.
package sources

import (
	"context"
	"hash/fnv"
	"io"
	"time"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/profiles"
)

// FileDesc describes one file announced on a raw item.
type FileDesc struct {
	Filename string
	Size     int64
	MIME     string
	// MediaKind is the upstream's own classification (document, photo,
	// file); informational.
	MediaKind string
	// FetchRef is the adapter-specific handle FetchBytes resolves later.
	FetchRef string
}

// PreviewDesc describes a preview image announced on a raw item.
type PreviewDesc struct {
	Filename string
	FetchRef string
}

// RawItem is the uniform in-flight representation of one upstream item.
// Chat messages, drive folders, forum topics and local folders all flatten
// into this shape before the ingest service sees them.
type RawItem struct {
	// UpstreamID is the stable per-channel identifier. Chat feeds use the
	// native message id; folder sources derive one from the source path.
	UpstreamID int64
	Title      string
	Designer   string
	Caption    string
	Author     string
	PostedAt   time.Time
	// FolderPath is the source-relative folder for structured sources,
	// empty for feed items.
	FolderPath string
	Files      []FileDesc
	Previews   []PreviewDesc
	// Tags are source-derived defaults (subfolder tags, folder tag
	// defaults) applied as automatic tags at ingest.
	Tags []string
	// ExternalProvider/ExternalID identify the item on a public catalogue
	// when the source knows it; drives exact pre-download deduplication.
	ExternalProvider string
	ExternalID       string
}

// ScanRequest addresses one scan run. Feed scans set Channel; tree scans
// set Folder plus the resolved profile and designer default.
type ScanRequest struct {
	Channel *catalog.Channel
	// BatchSize bounds one network pull for feed sources.
	BatchSize int

	Folder   *catalog.ImportSourceFolder
	Profile  *profiles.Config
	Designer string
}

// EmitFunc receives scanned items one at a time. Returning an error stops
// the scan.
type EmitFunc func(RawItem) error

// Adapter is the uniform driver interface the pipeline consumes. Scan
// streams items and returns the next incremental cursor (the highest
// upstream message id seen; 0 when the source has no cursor). FetchBytes
// resolves a FetchRef announced by a previous scan.
type Adapter interface {
	Name() string
	Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (nextCursor int64, err error)
	FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error)
	// Probe verifies upstream connectivity for health reporting.
	Probe(ctx context.Context) error
}

// PathID derives a stable upstream id for a folder-source item from its
// source path. Folder sources have no native message ids; hashing the path
// keeps re-scans idempotent through the (channel, upstream_id) uniqueness.
func PathID(path string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	// clear the sign bit; the column is a positive BIGINT
	return int64(h.Sum64() &^ (1 << 63))
}
