// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package profiles

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printarr/printarr/internal/cerrors"
)

func dir(p string) Entry  { return Entry{Path: p, IsDir: true} }
func file(p string) Entry { return Entry{Path: p, Size: 100} }

func TestDetectDesignsNested(t *testing.T) {
	cfg := Default()
	entries := []Entry{
		dir("Ancient Dragon"),
		dir("Ancient Dragon/stls"),
		file("Ancient Dragon/stls/body.stl"),
		file("Ancient Dragon/stls/head.stl"),
		dir("Ancient Dragon/images"),
		file("Ancient Dragon/images/render.png"),
		dir("Wyvern"),
		file("Wyvern/wyvern.stl"),
		dir("__MACOSX"),
		file("__MACOSX/junk.stl"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 2)

	dragon := designs[0]
	assert.Equal(t, "Ancient Dragon", dragon.Path)
	assert.Equal(t, "Ancient Dragon", dragon.Title)
	assert.Len(t, dragon.ModelFiles, 2)
	require.Len(t, dragon.PreviewFiles, 1)
	assert.Equal(t, "Ancient Dragon/images/render.png", dragon.PreviewFiles[0].Path)
	assert.Equal(t, []string{"stls", "images"}, dragon.Tags)

	wyvern := designs[1]
	assert.Equal(t, "Wyvern", wyvern.Path)
	assert.Len(t, wyvern.ModelFiles, 1)
	assert.Empty(t, wyvern.Tags)
}

func TestDetectDesignsClaimsSubtrees(t *testing.T) {
	cfg := Default()
	entries := []Entry{
		dir("Set"),
		file("Set/base.stl"),
		dir("Set/Extras"),
		file("Set/Extras/extra.stl"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 1)
	assert.Equal(t, "Set", designs[0].Path)
	assert.Len(t, designs[0].ModelFiles, 2)
}

func TestDetectDesignsFlat(t *testing.T) {
	cfg := Builtins()["Flat files"]
	entries := []Entry{
		file("dragon_bust.stl"),
		file("dragon_bust.png"),
		file("tower.3mf"),
		file("notes.txt"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 2)

	assert.Equal(t, "dragon_bust", designs[0].Title)
	require.Len(t, designs[0].PreviewFiles, 1)
	assert.Equal(t, "dragon_bust.png", designs[0].PreviewFiles[0].Path)

	assert.Equal(t, "tower", designs[1].Title)
	assert.Empty(t, designs[1].PreviewFiles)
}

func TestDetectDesignsAutoFallsBackToFlat(t *testing.T) {
	cfg := Default()
	entries := []Entry{
		file("lone.stl"),
		dir("docs"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 1)
	assert.Empty(t, designs[0].Path)
	assert.Len(t, designs[0].ModelFiles, 1)
}

func TestDetectDesignsAtDepth(t *testing.T) {
	cfg := Default()
	depth := 2
	cfg.Detection.DesignDepth = &depth
	entries := []Entry{
		dir("Loot Studios"),
		dir("Loot Studios/Ancient Dragon"),
		file("Loot Studios/Ancient Dragon/readme.md"),
		dir("Loot Studios/Wyvern"),
		file("Loot Studios/Wyvern/wyvern.stl"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 2)
	assert.Equal(t, "Ancient Dragon", designs[0].Title)
	assert.Equal(t, "Wyvern", designs[1].Title)
}

func TestQualifiesArchiveOnly(t *testing.T) {
	cfg := Builtins()["Creator archives"]
	entries := []Entry{
		dir("March Release"),
		file("March Release/march.rar"),
	}

	designs := DetectDesigns(entries, &cfg)
	require.Len(t, designs, 1)
	assert.Len(t, designs[0].ArchiveFiles, 1)
}

func TestDeriveTitle(t *testing.T) {
	t.Run("folder name", func(t *testing.T) {
		tc := TitleConfig{Source: TitleFromFolder}
		assert.Equal(t, "Ancient Dragon", DeriveTitle(&tc, "pack/Ancient Dragon", false))
	})

	t.Run("filename drops extension", func(t *testing.T) {
		tc := TitleConfig{Source: TitleFromFilename}
		assert.Equal(t, "dragon_bust", DeriveTitle(&tc, "dragon_bust.stl", true))
	})

	t.Run("parent folder", func(t *testing.T) {
		tc := TitleConfig{Source: TitleFromParentFolder}
		assert.Equal(t, "Loot Studios", DeriveTitle(&tc, "Loot Studios/stls", false))
	})

	t.Run("strip patterns and title case", func(t *testing.T) {
		tc := TitleConfig{
			Source:        TitleFromFolder,
			StripPatterns: []string{`(?i)\bv?\d+(\.\d+)*$`},
			CaseTransform: CaseTitle,
		}
		assert.Equal(t, "Ancient Dragon", DeriveTitle(&tc, "ancient dragon v2", false))
	})
}

func TestParse(t *testing.T) {
	t.Run("valid document fills defaults", func(t *testing.T) {
		cfg, err := Parse(json.RawMessage(`{"detection":{"model_extensions":[".STL"]}}`))
		require.NoError(t, err)
		assert.Equal(t, StructureAuto, cfg.Detection.Structure)
		assert.Equal(t, []string{"stl"}, cfg.Detection.ModelExtensions)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Parse(json.RawMessage(`{`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("bad structure", func(t *testing.T) {
		_, err := Parse(json.RawMessage(`{"detection":{"structure":"weird"}}`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("design depth out of bounds", func(t *testing.T) {
		_, err := Parse(json.RawMessage(`{"detection":{"design_depth":0}}`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})

	t.Run("bad strip regex", func(t *testing.T) {
		_, err := Parse(json.RawMessage(`{"title":{"strip_patterns":["["]}}`))
		assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
	})
}
