// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/profiles"
)

func TestPathID(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, PathID("Dragons/Ancient Dragon"), PathID("Dragons/Ancient Dragon"))
	})

	t.Run("distinct paths diverge", func(t *testing.T) {
		assert.NotEqual(t, PathID("a"), PathID("b"))
	})

	t.Run("never negative", func(t *testing.T) {
		for _, p := range []string{"", "a", "Dragons/Ancient Dragon", "x/y/z"} {
			assert.GreaterOrEqual(t, PathID(p), int64(0))
		}
	})
}

func makeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestWalkTree(t *testing.T) {
	root := makeTree(t, map[string]string{
		"Dragon/stls/body.stl":  "solid body",
		"Dragon/render.png":     "png",
		"deep/a/b/c/buried.stl": "solid buried",
	})

	t.Run("unlimited depth", func(t *testing.T) {
		entries, err := WalkTree(root, 0)
		require.NoError(t, err)

		byPath := make(map[string]profiles.Entry, len(entries))
		for _, e := range entries {
			byPath[e.Path] = e
		}
		assert.True(t, byPath["Dragon"].IsDir)
		assert.True(t, byPath["Dragon/stls"].IsDir)

		body, ok := byPath["Dragon/stls/body.stl"]
		require.True(t, ok)
		assert.False(t, body.IsDir)
		assert.Equal(t, int64(len("solid body")), body.Size)
		assert.Equal(t, filepath.Join(root, "Dragon", "stls", "body.stl"), body.FetchRef)

		_, ok = byPath["deep/a/b/c/buried.stl"]
		assert.True(t, ok)
	})

	t.Run("max depth prunes subtrees", func(t *testing.T) {
		entries, err := WalkTree(root, 2)
		require.NoError(t, err)
		for _, e := range entries {
			assert.LessOrEqual(t, 1+countSlashes(e.Path), 2, e.Path)
		}
	})
}

func countSlashes(s string) int {
	n := 0
	for _, r := range s {
		if r == '/' {
			n++
		}
	}
	return n
}

func TestLocalAdapterScan(t *testing.T) {
	a := NewLocalAdapter(zap.NewNop())
	profile := profiles.Default()

	t.Run("emits detected designs", func(t *testing.T) {
		root := makeTree(t, map[string]string{
			"Ancient Dragon/stls/body.stl": "solid body",
			"Ancient Dragon/render.png":    "png",
			"Wyvern/wyvern.stl":            "solid wyvern",
		})
		folder := &catalog.ImportSourceFolder{Location: root}

		var items []RawItem
		cursor, err := a.Scan(context.Background(), ScanRequest{
			Folder:   folder,
			Profile:  &profile,
			Designer: "Loot Studios",
		}, func(it RawItem) error {
			items = append(items, it)
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, cursor)
		require.Len(t, items, 2)

		titles := []string{items[0].Title, items[1].Title}
		assert.ElementsMatch(t, []string{"Ancient Dragon", "Wyvern"}, titles)
		for _, it := range items {
			assert.Equal(t, "Loot Studios", it.Designer)
			assert.NotZero(t, it.UpstreamID)
			assert.NotEmpty(t, it.Files)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		folder := &catalog.ImportSourceFolder{Location: filepath.Join(t.TempDir(), "gone")}
		_, err := a.Scan(context.Background(), ScanRequest{Folder: folder, Profile: &profile}, nil)
		assert.True(t, cerrors.IsKind(err, cerrors.KindNotFound))
	})

	t.Run("nil folder", func(t *testing.T) {
		_, err := a.Scan(context.Background(), ScanRequest{Profile: &profile}, nil)
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}

func TestLocalAdapterFetchBytes(t *testing.T) {
	a := NewLocalAdapter(zap.NewNop())

	t.Run("reads the file", func(t *testing.T) {
		root := makeTree(t, map[string]string{"body.stl": "solid body"})
		rc, size, err := a.FetchBytes(context.Background(), filepath.Join(root, "body.stl"))
		require.NoError(t, err)
		defer rc.Close()
		assert.Equal(t, int64(len("solid body")), size)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "solid body", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := a.FetchBytes(context.Background(), filepath.Join(t.TempDir(), "nope.stl"))
		assert.True(t, cerrors.IsKind(err, cerrors.KindNotFound))
	})
}
