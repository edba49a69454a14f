// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads process configuration from PRINTARR_* environment
// variables, optionally layered over a JSON or YAML config file. CLI flags
// override both.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "PRINTARR_"

// Config is the process-level configuration. Everything runtime-tunable
// lives in the settings service instead; this struct covers what must be
// known before the database is reachable.
type Config struct {
	// ConfigPath holds the database-adjacent state: encrypted credentials,
	// session files.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// DataPath holds staging/<design_id>/ download directories.
	DataPath string `json:"data_path" yaml:"data_path"`
	// LibraryPath is the organised output root.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// CachePath holds previews/<design_id>/ images.
	CachePath string `json:"cache_path" yaml:"cache_path"`

	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	Debug    bool   `json:"debug" yaml:"debug"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// Upstream credentials. Opaque to the core; handed to the source
	// adapters at construction.
	ChatAPIID         string `json:"chat_api_id" yaml:"chat_api_id"`
	ChatAPIHash       string `json:"chat_api_hash" yaml:"chat_api_hash"`
	DriveClientID     string `json:"drive_client_id" yaml:"drive_client_id"`
	DriveClientSecret string `json:"drive_client_secret" yaml:"drive_client_secret"`
}

// Default returns the built-in defaults, relative to the working directory.
func Default() Config {
	return Config{
		ConfigPath:  "./config",
		DataPath:    "./data",
		LibraryPath: "./library",
		CachePath:   "./cache",
		Host:        "0.0.0.0",
		Port:        3333,
		LogLevel:    "info",
	}
}

// Load builds the configuration: defaults, then the config file at path (if
// non-empty), then environment variables. Returns an error only for an
// unreadable or malformed file or an unparseable env value.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that make startup
// impossible when wrong.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required (set %sDATABASE_URL)", EnvPrefix)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// StagingDir returns the staging directory for a design.
func (c Config) StagingDir(designID string) string {
	return filepath.Join(c.DataPath, "staging", designID)
}

// UploadDir returns the direct-upload staging directory.
func (c Config) UploadDir() string {
	return filepath.Join(c.DataPath, "uploads")
}

// PreviewDir returns the preview cache directory for a design.
func (c Config) PreviewDir(designID string) string {
	return filepath.Join(c.CachePath, "previews", designID)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("CONFIG_PATH", &cfg.ConfigPath)
	str("DATA_PATH", &cfg.DataPath)
	str("LIBRARY_PATH", &cfg.LibraryPath)
	str("CACHE_PATH", &cfg.CachePath)
	str("HOST", &cfg.Host)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("CHAT_API_ID", &cfg.ChatAPIID)
	str("CHAT_API_HASH", &cfg.ChatAPIHash)
	str("DRIVE_CLIENT_ID", &cfg.DriveClientID)
	str("DRIVE_CLIENT_SECRET", &cfg.DriveClientSecret)

	if v, ok := os.LookupEnv(EnvPrefix + "PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		cfg.Port = p
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		cfg.Debug = b
	}
	return nil
}
