// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 3333, cfg.Port)
		assert.Equal(t, "0.0.0.0", cfg.Host)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("yaml file layers over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "printarr.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: 8080\ndatabase_url: postgres://x\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://x", cfg.DatabaseURL)
		assert.Equal(t, "./library", cfg.LibraryPath)
	})

	t.Run("json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "printarr.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"host":"127.0.0.1"}`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cfg.Host)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "printarr.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o644))
		t.Setenv("PRINTARR_PORT", "9090")
		t.Setenv("PRINTARR_DATABASE_URL", "postgres://env")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	})

	t.Run("unparseable env value", func(t *testing.T) {
		t.Setenv("PRINTARR_PORT", "not-a-port")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "gone.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := Default()
	base.DatabaseURL = "postgres://localhost/printarr"

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base.Validate())
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := base
		cfg.DatabaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := base
		cfg.Port = 70000
		assert.Error(t, cfg.Validate())
	})
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.DataPath = "/data"
	cfg.CachePath = "/cache"

	assert.Equal(t, filepath.Join("/data", "staging", "42"), cfg.StagingDir("42"))
	assert.Equal(t, filepath.Join("/data", "uploads"), cfg.UploadDir())
	assert.Equal(t, filepath.Join("/cache", "previews", "42"), cfg.PreviewDir("42"))
}
