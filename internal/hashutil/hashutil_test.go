// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hashutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SHA-256 of "abc", a fixed vector.
const abcDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestSHA256Reader(t *testing.T) {
	got, err := SHA256Reader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, abcDigest, got)
}

func TestSHA256File(t *testing.T) {
	t.Run("matches the stream digest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "f.bin")
		require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
		got, err := SHA256File(path)
		require.NoError(t, err)
		assert.Equal(t, abcDigest, got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := SHA256File(filepath.Join(t.TempDir(), "gone"))
		assert.Error(t, err)
	})
}
