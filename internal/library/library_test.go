// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

func TestSanitizeComponent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Ancient Dragon", "Ancient Dragon"},
		{"reserved chars", `Dragon: "The Red" / v2?`, "Dragon_ _The Red_ _ v2_"},
		{"trailing dots trimmed", "Dragon...", "Dragon"},
		{"control chars", "Drag\x01on", "Drag_on"},
		{"empty becomes underscore", "", "_"},
		{"all dots becomes underscore", "..", "_"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeComponent(tc.in))
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	vars := Vars{
		Designer: "Loot Studios",
		Channel:  "Dragons Monthly",
		Title:    "Ancient Dragon",
		Date:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("default template", func(t *testing.T) {
		got, err := RenderTemplate("", vars)
		require.NoError(t, err)
		assert.Equal(t, "Loot Studios/Dragons Monthly/Ancient Dragon", got)
	})

	t.Run("date variable", func(t *testing.T) {
		got, err := RenderTemplate("{date}/{title}", vars)
		require.NoError(t, err)
		assert.Equal(t, "2025-06-01/Ancient Dragon", got)
	})

	t.Run("components are sanitised", func(t *testing.T) {
		got, err := RenderTemplate("{title}", Vars{Title: "a/b"})
		require.NoError(t, err)
		assert.Equal(t, "a_b", got)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := RenderTemplate("{nope}/{title}", vars)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("escape attempt rejected", func(t *testing.T) {
		_, err := RenderTemplate("../{title}", vars)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}

func stage(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestImport(t *testing.T) {
	vars := Vars{Designer: "Loot Studios", Channel: "Dragons", Title: "Ancient Dragon"}

	t.Run("moves files and prunes staging", func(t *testing.T) {
		root := t.TempDir()
		staging := filepath.Join(t.TempDir(), "job-1")
		stage(t, staging, map[string]string{
			"dragon.stl":        "solid dragon",
			"supported/sup.stl": "solid sup",
		})

		svc := New(root, zap.NewNop())
		res, err := svc.Import(context.Background(), staging, "", vars)
		require.NoError(t, err)

		assert.Equal(t, "Loot Studios/Dragons/Ancient Dragon", res.LibraryRel)
		assert.Equal(t, map[string]string{
			"dragon.stl":        "Loot Studios/Dragons/Ancient Dragon/dragon.stl",
			"supported/sup.stl": "Loot Studios/Dragons/Ancient Dragon/supported/sup.stl",
		}, res.Moved)

		data, err := os.ReadFile(filepath.Join(root, "Loot Studios", "Dragons", "Ancient Dragon", "dragon.stl"))
		require.NoError(t, err)
		assert.Equal(t, "solid dragon", string(data))
		assert.NoDirExists(t, staging)
	})

	t.Run("conflicting directory gets a suffix", func(t *testing.T) {
		root := t.TempDir()
		occupied := filepath.Join(root, "Loot Studios", "Dragons", "Ancient Dragon")
		require.NoError(t, os.MkdirAll(occupied, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(occupied, "old.stl"), []byte("x"), 0o644))

		staging := filepath.Join(t.TempDir(), "job-2")
		stage(t, staging, map[string]string{"dragon.stl": "y"})

		svc := New(root, zap.NewNop())
		res, err := svc.Import(context.Background(), staging, "", vars)
		require.NoError(t, err)
		assert.Equal(t, "Loot Studios/Dragons/Ancient Dragon (2)", res.LibraryRel)
		assert.FileExists(t, filepath.Join(root, "Loot Studios", "Dragons", "Ancient Dragon (2)", "dragon.stl"))
	})

	t.Run("existing empty directory is reused", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "Loot Studios", "Dragons", "Ancient Dragon"), 0o755))

		staging := filepath.Join(t.TempDir(), "job-3")
		stage(t, staging, map[string]string{"dragon.stl": "z"})

		svc := New(root, zap.NewNop())
		res, err := svc.Import(context.Background(), staging, "", vars)
		require.NoError(t, err)
		assert.Equal(t, "Loot Studios/Dragons/Ancient Dragon", res.LibraryRel)
	})

	t.Run("empty staging is a no-op", func(t *testing.T) {
		root := t.TempDir()
		staging := t.TempDir()

		svc := New(root, zap.NewNop())
		res, err := svc.Import(context.Background(), staging, "", vars)
		require.NoError(t, err)
		assert.Empty(t, res.Moved)
		assert.Empty(t, res.LibraryRel)
	})

	t.Run("missing staging is a no-op", func(t *testing.T) {
		svc := New(t.TempDir(), zap.NewNop())
		res, err := svc.Import(context.Background(), filepath.Join(t.TempDir(), "gone"), "", vars)
		require.NoError(t, err)
		assert.Empty(t, res.Moved)
	})
}
