// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package settings is the runtime-tunable configuration stored in the
// catalog. Every key has a typed definition with a default; only overrides
// are persisted, and writing a value equal to the default removes the row.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
)

// Setting keys.
const (
	KeyMaxConcurrentDownloads = "max_concurrent_downloads"
	KeyDownloadTimeoutSeconds = "download_timeout_seconds"
	KeyDeleteArchives         = "delete_archives_after_extraction"
	KeyAutoQueueRender        = "auto_queue_render_after_import"
	KeyLibraryPathTemplate    = "library_path_template"
	KeySyncIntervalMinutes    = "sync_interval_minutes"
	KeyAIAnalysisEnabled      = "ai_analysis_enabled"
	KeyScanBatchSize          = "scan_batch_size"
	KeyUploadCleanupHours     = "upload_cleanup_hours"
	KeyWorkerPollIntervalMS   = "worker_poll_interval_ms"
	KeyAdapterRatePerSecond   = "adapter_rate_limit_per_second"
	KeyJobRetentionDays       = "job_retention_days"
)

// Type is the JSON value type of a setting.
type Type string

const (
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeString Type = "string"
)

// Definition describes one key: its type, default, numeric bounds, and
// whether a change only applies after restart.
type Definition struct {
	Key             string      `json:"key"`
	Type            Type        `json:"type"`
	Default         interface{} `json:"default"`
	Min             float64     `json:"min,omitempty"`
	Max             float64     `json:"max,omitempty"`
	Description     string      `json:"description"`
	RestartRequired bool        `json:"restart_required,omitempty"`
}

var defs = map[string]Definition{
	KeyMaxConcurrentDownloads: {
		Key: KeyMaxConcurrentDownloads, Type: TypeInt, Default: 3, Min: 1, Max: 10,
		Description: "Download workers running in parallel.", RestartRequired: true,
	},
	KeyDownloadTimeoutSeconds: {
		Key: KeyDownloadTimeoutSeconds, Type: TypeInt, Default: 3600, Min: 60, Max: 86400,
		Description: "Per-design download budget in seconds.",
	},
	KeyDeleteArchives: {
		Key: KeyDeleteArchives, Type: TypeBool, Default: true,
		Description: "Remove archive files once their contents are extracted.",
	},
	KeyAutoQueueRender: {
		Key: KeyAutoQueueRender, Type: TypeBool, Default: false,
		Description: "Queue a model render for designs imported without any preview.",
	},
	KeyLibraryPathTemplate: {
		Key: KeyLibraryPathTemplate, Type: TypeString, Default: "{designer}/{channel}/{title}",
		Description: "Directory layout of the organised library.",
	},
	KeySyncIntervalMinutes: {
		Key: KeySyncIntervalMinutes, Type: TypeInt, Default: 15, Min: 1, Max: 1440,
		Description: "Minutes between live sync sweeps over enabled channels.",
	},
	KeyAIAnalysisEnabled: {
		Key: KeyAIAnalysisEnabled, Type: TypeBool, Default: false,
		Description: "Queue AI analysis after designs are organised.",
	},
	KeyScanBatchSize: {
		Key: KeyScanBatchSize, Type: TypeInt, Default: 200, Min: 10, Max: 1000,
		Description: "Items fetched per adapter scan batch.",
	},
	KeyUploadCleanupHours: {
		Key: KeyUploadCleanupHours, Type: TypeInt, Default: 24, Min: 1, Max: 720,
		Description: "Age after which abandoned upload staging files are removed.",
	},
	KeyWorkerPollIntervalMS: {
		Key: KeyWorkerPollIntervalMS, Type: TypeInt, Default: 1000, Min: 100, Max: 10000,
		Description: "Queue poll interval for idle workers, in milliseconds.", RestartRequired: true,
	},
	KeyAdapterRatePerSecond: {
		Key: KeyAdapterRatePerSecond, Type: TypeFloat, Default: 2.0, Min: 0.1, Max: 50,
		Description: "Upstream calls per second each source adapter may make.",
	},
	KeyJobRetentionDays: {
		Key: KeyJobRetentionDays, Type: TypeInt, Default: 30, Min: 1, Max: 365,
		Description: "Days finished jobs stay visible before pruning.",
	},
}

// Schema lists every definition, sorted by key, for the API.
func Schema() []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Effective is a key's current value plus whether it is an override.
type Effective struct {
	Definition
	Value      interface{} `json:"value"`
	IsDefault  bool        `json:"is_default"`
	ModifiedAt *time.Time  `json:"modified_at,omitempty"`
}

// Service reads and writes settings through the catalog store.
type Service struct {
	store *catalog.Store
	log   *zap.Logger
}

// New builds a settings service.
func New(store *catalog.Store, logger *zap.Logger) *Service {
	return &Service{store: store, log: logger.Named("settings")}
}

// value loads the effective raw value for a key, falling back to the
// default on a missing row or on a load failure. Defaults keep the pipeline
// running when the settings table is briefly unreachable.
func (s *Service) value(ctx context.Context, key string) interface{} {
	def, ok := defs[key]
	if !ok {
		return nil
	}
	row, err := s.store.GetSettingRow(ctx, s.store.DB(), key)
	if err != nil {
		s.log.Warn("setting read failed, using default", zap.String("key", key), zap.Error(err))
		return def.Default
	}
	if row == nil {
		return def.Default
	}
	v, err := decode(def, row.Value)
	if err != nil {
		s.log.Warn("stored setting is malformed, using default", zap.String("key", key), zap.Error(err))
		return def.Default
	}
	return v
}

// Int returns the effective integer value of key.
func (s *Service) Int(ctx context.Context, key string) int {
	if v, ok := s.value(ctx, key).(int); ok {
		return v
	}
	return 0
}

// Float returns the effective float value of key.
func (s *Service) Float(ctx context.Context, key string) float64 {
	switch v := s.value(ctx, key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns the effective boolean value of key.
func (s *Service) Bool(ctx context.Context, key string) bool {
	if v, ok := s.value(ctx, key).(bool); ok {
		return v
	}
	return false
}

// String returns the effective string value of key.
func (s *Service) String(ctx context.Context, key string) string {
	if v, ok := s.value(ctx, key).(string); ok {
		return v
	}
	return ""
}

// All returns the effective value of every key.
func (s *Service) All(ctx context.Context) ([]Effective, error) {
	rows, err := s.store.AllSettingRows(ctx, s.store.DB())
	if err != nil {
		return nil, err
	}
	out := make([]Effective, 0, len(defs))
	for _, def := range defs {
		eff := Effective{Definition: def, Value: def.Default, IsDefault: true}
		if raw, ok := rows[def.Key]; ok {
			if v, err := decode(def, raw); err == nil {
				eff.Value = v
				eff.IsDefault = false
			}
		}
		out = append(out, eff)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put validates and stores an override. Writing the default value instead
// deletes the override row.
func (s *Service) Put(ctx context.Context, key string, raw json.RawMessage) error {
	def, ok := defs[key]
	if !ok {
		return cerrors.Ef(cerrors.KindValidation, "unknown setting %q", key)
	}
	v, err := decode(def, raw)
	if err != nil {
		return cerrors.E(cerrors.KindValidation, fmt.Sprintf("setting %q: %v", key, err))
	}
	if err := checkBounds(def, v); err != nil {
		return err
	}
	if isDefault(def, v) {
		return s.store.DeleteSettingRow(ctx, s.store.DB(), key)
	}
	norm, _ := json.Marshal(v)
	return s.store.PutSettingRow(ctx, s.store.DB(), key, norm)
}

// Delete reverts one key to its default.
func (s *Service) Delete(ctx context.Context, key string) error {
	if _, ok := defs[key]; !ok {
		return cerrors.Ef(cerrors.KindValidation, "unknown setting %q", key)
	}
	return s.store.DeleteSettingRow(ctx, s.store.DB(), key)
}

// Reset reverts every key to its default.
func (s *Service) Reset(ctx context.Context) error {
	return s.store.DeleteAllSettingRows(ctx, s.store.DB())
}

// decode parses raw JSON into the definition's Go type.
func decode(def Definition, raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch def.Type {
	case TypeInt:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected an integer")
		}
		i, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer")
		}
		return int(i), nil
	case TypeFloat:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected a number")
		}
		return f, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean")
		}
		return b, nil
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string")
		}
		return str, nil
	}
	return nil, fmt.Errorf("unhandled type %q", def.Type)
}

// checkBounds enforces numeric min/max.
func checkBounds(def Definition, v interface{}) error {
	if def.Type != TypeInt && def.Type != TypeFloat {
		return nil
	}
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case float64:
		f = n
	}
	if f < def.Min || f > def.Max {
		return cerrors.Ef(cerrors.KindValidation,
			"setting %q must be between %g and %g", def.Key, def.Min, def.Max)
	}
	return nil
}

// isDefault compares a decoded value against the definition default.
func isDefault(def Definition, v interface{}) bool {
	switch def.Type {
	case TypeFloat:
		d, _ := def.Default.(float64)
		f, _ := v.(float64)
		return d == f
	default:
		return v == def.Default
	}
}
