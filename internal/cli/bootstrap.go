// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/config"
	"github.com/printarr/printarr/internal/profiles"
)

// predefinedTags is the built-in tag vocabulary, seeded once per database.
// User-created tags live alongside with no category.
var predefinedTags = map[string][]string{
	"material": {"pla", "petg", "abs", "resin", "tpu"},
	"category": {"miniature", "terrain", "bust", "tool", "toy", "decor", "functional", "cosplay"},
	"printing": {"multicolor", "presupported", "multipart", "articulated"},
}

// uploadSourceName is the reserved import source backing the HTTP upload
// inbox.
const uploadSourceName = "Uploads"

// bootstrap makes the database ready for work: seeds the predefined tag
// set and built-in detection profiles, and ensures the upload inbox source
// with its folder and virtual channel exists. Every step is idempotent.
func bootstrap(ctx context.Context, store *catalog.Store, cfg config.Config, logger *zap.Logger) (*catalog.ImportSourceFolder, error) {
	log := logger.Named("bootstrap")

	if err := store.SeedPredefinedTags(ctx, store.DB(), predefinedTags); err != nil {
		return nil, fmt.Errorf("seed tags: %w", err)
	}
	if err := seedBuiltinProfiles(ctx, store); err != nil {
		return nil, fmt.Errorf("seed profiles: %w", err)
	}
	folder, err := ensureUploadSource(ctx, store, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("ensure upload source: %w", err)
	}
	return folder, nil
}

func seedBuiltinProfiles(ctx context.Context, store *catalog.Store) error {
	for name, cfg := range profiles.Builtins() {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		p := &catalog.ImportProfile{Name: name, IsBuiltin: true, Config: raw}
		if err := store.CreateImportProfile(ctx, store.DB(), p); err != nil {
			return err
		}
	}
	return nil
}

// ensureUploadSource creates the Uploads import source, its single folder
// pointing at the upload staging directory, and its virtual channel.
func ensureUploadSource(ctx context.Context, store *catalog.Store, cfg config.Config, log *zap.Logger) (*catalog.ImportSourceFolder, error) {
	db := store.DB()
	srcs, err := store.ListImportSources(ctx, db, false)
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		if src.Kind != catalog.ImportUpload {
			continue
		}
		folders, err := store.FoldersForSource(ctx, db, src.ID)
		if err != nil {
			return nil, err
		}
		if len(folders) > 0 {
			return &folders[0], nil
		}
		// source exists but lost its folder; recreate it
		folder := &catalog.ImportSourceFolder{
			SourceID: src.ID,
			Location: cfg.UploadDir(),
			Enabled:  true,
		}
		if err := store.AddImportFolder(ctx, db, folder); err != nil {
			return nil, err
		}
		return folder, nil
	}

	src := &catalog.ImportSource{
		Name:    uploadSourceName,
		Kind:    catalog.ImportUpload,
		Enabled: true,
	}
	var folder *catalog.ImportSourceFolder
	err = store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateImportSource(ctx, tx, src); err != nil {
			return err
		}
		folder = &catalog.ImportSourceFolder{
			SourceID: src.ID,
			Location: cfg.UploadDir(),
			Enabled:  true,
		}
		if err := store.AddImportFolder(ctx, tx, folder); err != nil {
			return err
		}
		ch := &catalog.Channel{
			Kind:           catalog.ChannelVirtual,
			Title:          uploadSourceName,
			Enabled:        true,
			BackfillMode:   catalog.BackfillAllHistory,
			DownloadMode:   catalog.DownloadManual,
			ImportSourceID: &src.ID,
		}
		return store.CreateChannel(ctx, tx, ch)
	})
	if err != nil {
		if cerrors.IsKind(err, cerrors.KindConflict) {
			// lost a startup race with another instance; reload
			return ensureUploadSource(ctx, store, cfg, log)
		}
		return nil, err
	}
	log.Info("created upload inbox source", zap.String("dir", cfg.UploadDir()))
	return folder, nil
}
