// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package profiles defines the import-profile JSON schema and the folder
// detection engine that decides which parts of a source tree are designs.
package profiles

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/printarr/printarr/internal/cerrors"
)

// Structure controls how designs are found in a tree.
const (
	StructureNested = "nested"
	StructureFlat   = "flat"
	StructureAuto   = "auto"
)

// Title sources.
const (
	TitleFromFolder       = "folder_name"
	TitleFromParentFolder = "parent_folder"
	TitleFromFilename     = "filename"
)

// Case transforms.
const (
	CaseNone  = "none"
	CaseTitle = "title"
	CaseLower = "lower"
	CaseUpper = "upper"
)

// Config is the complete profile document.
type Config struct {
	Detection DetectionConfig `json:"detection"`
	Title     TitleConfig     `json:"title"`
	Preview   PreviewConfig   `json:"preview"`
	Ignore    IgnoreConfig    `json:"ignore"`
	AutoTags  AutoTagsConfig  `json:"auto_tags"`
}

// DetectionConfig decides which folders qualify as designs.
type DetectionConfig struct {
	ModelExtensions      []string `json:"model_extensions"`
	ArchiveExtensions    []string `json:"archive_extensions"`
	MinModelFiles        int      `json:"min_model_files"`
	Structure            string   `json:"structure"`
	ModelSubfolders      []string `json:"model_subfolders"`
	RequirePreviewFolder bool     `json:"require_preview_folder"`
	// DesignDepth short-circuits detection: every folder at exactly this
	// depth below the scan root is a design.
	DesignDepth *int `json:"design_depth,omitempty"`
}

// TitleConfig derives the design title.
type TitleConfig struct {
	Source        string   `json:"source"`
	StripPatterns []string `json:"strip_patterns"`
	CaseTransform string   `json:"case_transform"`
}

// PreviewConfig locates preview images.
type PreviewConfig struct {
	Folders         []string `json:"folders"`
	FolderPatterns  []string `json:"folder_patterns"`
	ImageExtensions []string `json:"image_extensions"`
	IncludeRoot     bool     `json:"include_root"`
}

// IgnoreConfig filters entries out before detection.
type IgnoreConfig struct {
	Folders          []string `json:"folders"`
	Extensions       []string `json:"extensions"`
	FilenamePatterns []string `json:"filename_patterns"`
}

// AutoTagsConfig derives tags from tree structure.
type AutoTagsConfig struct {
	FromSubfolders  bool     `json:"from_subfolders"`
	FromFilename    bool     `json:"from_filename"`
	SubfolderLevels int      `json:"subfolder_levels"`
	StripPatterns   []string `json:"strip_patterns"`
}

// Default returns the standard profile configuration.
func Default() Config {
	return Config{
		Detection: DetectionConfig{
			ModelExtensions:   []string{"stl", "3mf", "obj", "step", "stp"},
			ArchiveExtensions: []string{"zip", "rar", "7z"},
			MinModelFiles:     1,
			Structure:         StructureAuto,
			ModelSubfolders:   []string{"stl", "stls", "3mf", "files", "models", "supported", "unsupported"},
		},
		Title: TitleConfig{
			Source:        TitleFromFolder,
			CaseTransform: CaseNone,
		},
		Preview: PreviewConfig{
			Folders:         []string{"images", "previews", "pictures", "renders"},
			FolderPatterns:  []string{"*preview*", "*image*"},
			ImageExtensions: []string{"png", "jpg", "jpeg", "webp"},
			IncludeRoot:     true,
		},
		Ignore: IgnoreConfig{
			Folders:          []string{"__MACOSX", ".git", ".thumbnails"},
			Extensions:       []string{"txt", "pdf", "url", "ds_store"},
			FilenamePatterns: []string{".*", "thumbs.db"},
		},
		AutoTags: AutoTagsConfig{
			FromSubfolders:  true,
			FromFilename:    false,
			SubfolderLevels: 2,
		},
	}
}

// Builtins are the immutable predefined profiles, keyed by name.
func Builtins() map[string]Config {
	std := Default()

	flat := Default()
	flat.Detection.Structure = StructureFlat
	flat.Title.Source = TitleFromFilename
	flat.AutoTags.FromSubfolders = false
	flat.AutoTags.FromFilename = true

	archives := Default()
	archives.Detection.Structure = StructureNested
	archives.Detection.MinModelFiles = 0
	archives.Title.StripPatterns = []string{`(?i)\bv?\d+(\.\d+)*$`, `(?i)[\[(].*?[\])]`}
	archives.Title.CaseTransform = CaseTitle

	return map[string]Config{
		"Standard":         std,
		"Flat files":       flat,
		"Creator archives": archives,
	}
}

// Parse decodes and validates a profile document.
func Parse(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, cerrors.E(cerrors.KindValidation, "profile config is not valid JSON", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum fields, bounds and regex syntax.
func (c *Config) Validate() error {
	switch c.Detection.Structure {
	case StructureNested, StructureFlat, StructureAuto:
	case "":
		c.Detection.Structure = StructureAuto
	default:
		return cerrors.Ef(cerrors.KindValidation, "detection.structure must be nested, flat or auto")
	}
	switch c.Title.Source {
	case TitleFromFolder, TitleFromParentFolder, TitleFromFilename:
	case "":
		c.Title.Source = TitleFromFolder
	default:
		return cerrors.Ef(cerrors.KindValidation, "title.source must be folder_name, parent_folder or filename")
	}
	switch c.Title.CaseTransform {
	case CaseNone, CaseTitle, CaseLower, CaseUpper:
	case "":
		c.Title.CaseTransform = CaseNone
	default:
		return cerrors.Ef(cerrors.KindValidation, "title.case_transform must be none, title, lower or upper")
	}
	if c.Detection.MinModelFiles < 0 {
		return cerrors.Ef(cerrors.KindValidation, "detection.min_model_files must be >= 0")
	}
	if d := c.Detection.DesignDepth; d != nil && (*d < 1 || *d > 10) {
		return cerrors.Ef(cerrors.KindValidation, "detection.design_depth must be between 1 and 10")
	}
	if c.AutoTags.SubfolderLevels != 0 && (c.AutoTags.SubfolderLevels < 1 || c.AutoTags.SubfolderLevels > 5) {
		return cerrors.Ef(cerrors.KindValidation, "auto_tags.subfolder_levels must be between 1 and 5")
	}
	for _, p := range c.AutoTags.StripPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return cerrors.E(cerrors.KindValidation, fmt.Sprintf("auto_tags strip pattern %q is not a valid regex", p), err)
		}
	}
	for _, p := range c.Title.StripPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return cerrors.E(cerrors.KindValidation, fmt.Sprintf("title strip pattern %q is not a valid regex", p), err)
		}
	}
	lower := func(ss []string) {
		for i := range ss {
			ss[i] = strings.ToLower(strings.TrimPrefix(ss[i], "."))
		}
	}
	lower(c.Detection.ModelExtensions)
	lower(c.Detection.ArchiveExtensions)
	lower(c.Preview.ImageExtensions)
	lower(c.Ignore.Extensions)
	return nil
}
