// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

func TestIsArchive(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"model.zip", true},
		{"Model.ZIP", true},
		{"model.rar", true},
		{"model.7z", true},
		{"model.tar", true},
		{"model.tar.gz", true},
		{"model.tgz", true},
		{"model.part1.rar", true},
		{"model.part01.rar", true},
		{"model.part2.rar", false},
		{"model.r00", false},
		{"model.r01", false},
		{"model.stl", false},
		{"readme.txt", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsArchive(tc.name))
		})
	}
}

// writeZip builds a zip at path from name->content pairs.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtractAll(t *testing.T) {
	svc := New(zap.NewNop())

	t.Run("flat zip", func(t *testing.T) {
		root := t.TempDir()
		writeZip(t, filepath.Join(root, "dragon.zip"), map[string]string{
			"dragon.stl":    "solid dragon",
			"docs/read.txt": "hi",
		})

		files, consumed, err := svc.ExtractAll(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, []string{"dragon.zip"}, consumed)
		require.Len(t, files, 2)

		rels := make(map[string]bool)
		for _, f := range files {
			assert.Equal(t, "dragon.zip", f.FromArchive)
			rels[f.RelPath] = true
		}
		assert.True(t, rels["dragon/dragon.stl"])
		assert.True(t, rels["dragon/docs/read.txt"])

		data, err := os.ReadFile(filepath.Join(root, "dragon", "dragon.stl"))
		require.NoError(t, err)
		assert.Equal(t, "solid dragon", string(data))
	})

	t.Run("nested archive extracted once", func(t *testing.T) {
		root := t.TempDir()

		var inner bytes.Buffer
		zw := zip.NewWriter(&inner)
		w, err := zw.Create("part.stl")
		require.NoError(t, err)
		_, err = w.Write([]byte("solid part"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		writeZip(t, filepath.Join(root, "bundle.zip"), map[string]string{
			"inner.zip": inner.String(),
		})

		_, consumed, err := svc.ExtractAll(context.Background(), root)
		require.NoError(t, err)
		assert.Len(t, consumed, 2)

		data, err := os.ReadFile(filepath.Join(root, "bundle", "inner", "part.stl"))
		require.NoError(t, err)
		assert.Equal(t, "solid part", string(data))
	})

	t.Run("no archives is a no-op", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "plain.stl"), []byte("x"), 0o644))

		files, consumed, err := svc.ExtractAll(context.Background(), root)
		require.NoError(t, err)
		assert.Empty(t, files)
		assert.Empty(t, consumed)
	})

	t.Run("entry escaping destination is rejected", func(t *testing.T) {
		root := t.TempDir()
		writeZip(t, filepath.Join(root, "evil.zip"), map[string]string{
			"../outside.txt": "nope",
		})

		_, _, err := svc.ExtractAll(context.Background(), root)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindPermanent))
		assert.NoFileExists(t, filepath.Join(root, "outside.txt"))
	})

	t.Run("encrypted zip fails permanently", func(t *testing.T) {
		root := t.TempDir()

		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "secret.stl", Flags: 0x1})
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, os.WriteFile(filepath.Join(root, "locked.zip"), buf.Bytes(), 0o644))

		_, _, err = svc.ExtractAll(context.Background(), root)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindPermanent))
		assert.Contains(t, err.Error(), "password protected")
	})

	t.Run("corrupt zip fails permanently", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "broken.zip"), []byte("not a zip"), 0o644))

		_, _, err := svc.ExtractAll(context.Background(), root)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindPermanent))
	})
}

func TestDestDirFor(t *testing.T) {
	assert.Equal(t, "dragon", destDirFor("dragon.zip"))
	assert.Equal(t, filepath.Join("sub", "dragon"), destDirFor(filepath.Join("sub", "dragon.zip")))
	assert.Equal(t, "dragon", destDirFor("dragon.tar.gz"))
	assert.Equal(t, "dragon", destDirFor("dragon.part1.rar"))
}
