// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package profiles

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// Entry is one node of a source tree, as listed by an adapter. Path is
// '/'-separated and relative to the scan root.
type Entry struct {
	Path     string
	IsDir    bool
	Size     int64
	FetchRef string
}

// Name returns the base name of the entry.
func (e Entry) Name() string { return path.Base(e.Path) }

// Ext returns the lowercase extension without the dot.
func (e Entry) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(e.Path), "."))
}

// depth of "a/b/c" is 3; the root "" is 0.
func depthOf(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// DesignFolder is one detected design with its classified files.
type DesignFolder struct {
	// Path is the design's folder, "" when a flat file stands alone.
	Path         string
	Title        string
	ModelFiles   []Entry
	ArchiveFiles []Entry
	PreviewFiles []Entry
	OtherFiles   []Entry
	// Tags derived from the subfolder structure per the profile.
	Tags []string
}

// Files returns every file of the design in a stable order.
func (d *DesignFolder) Files() []Entry {
	out := make([]Entry, 0, len(d.ModelFiles)+len(d.ArchiveFiles)+len(d.PreviewFiles)+len(d.OtherFiles))
	out = append(out, d.ModelFiles...)
	out = append(out, d.ArchiveFiles...)
	out = append(out, d.PreviewFiles...)
	out = append(out, d.OtherFiles...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// DetectDesigns partitions a tree listing into design folders according to
// the profile. Entries must cover the whole subtree (files and dirs).
func DetectDesigns(entries []Entry, cfg *Config) []DesignFolder {
	entries = filterIgnored(entries, &cfg.Ignore)

	if cfg.Detection.DesignDepth != nil {
		return detectAtDepth(entries, cfg, *cfg.Detection.DesignDepth)
	}

	structure := cfg.Detection.Structure
	if structure == StructureAuto {
		if hasDesignSubfolders(entries, cfg) {
			structure = StructureNested
		} else {
			structure = StructureFlat
		}
	}
	if structure == StructureFlat {
		return detectFlat(entries, cfg)
	}
	return detectNested(entries, cfg)
}

// filterIgnored drops ignored folders (with their subtrees), extensions and
// filename patterns.
func filterIgnored(entries []Entry, ig *IgnoreConfig) []Entry {
	ignoredDirs := make([]string, 0)
	for _, e := range entries {
		if e.IsDir && containsFold(ig.Folders, e.Name()) {
			ignoredDirs = append(ignoredDirs, e.Path+"/")
		}
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.IsDir && containsFold(ig.Folders, e.Name()) {
			continue
		}
		skip := false
		for _, d := range ignoredDirs {
			if strings.HasPrefix(e.Path, d) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if !e.IsDir {
			if containsFold(ig.Extensions, e.Ext()) {
				continue
			}
			if matchesAnyGlob(ig.FilenamePatterns, e.Name()) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// hasDesignSubfolders reports whether any immediate subfolder of the root
// holds model or archive files, which flips auto mode to nested.
func hasDesignSubfolders(entries []Entry, cfg *Config) bool {
	for _, e := range entries {
		if e.IsDir || depthOf(e.Path) < 2 {
			continue
		}
		if containsFold(cfg.Detection.ModelExtensions, e.Ext()) ||
			containsFold(cfg.Detection.ArchiveExtensions, e.Ext()) {
			return true
		}
	}
	return false
}

// detectFlat treats each model or archive file directly under the root as
// its own design, titled from the filename.
func detectFlat(entries []Entry, cfg *Config) []DesignFolder {
	var out []DesignFolder
	rootPreviews := collectPreviews(entries, cfg, "")
	for _, e := range entries {
		if e.IsDir || depthOf(e.Path) != 1 {
			continue
		}
		var d DesignFolder
		switch {
		case containsFold(cfg.Detection.ModelExtensions, e.Ext()):
			d.ModelFiles = []Entry{e}
		case containsFold(cfg.Detection.ArchiveExtensions, e.Ext()):
			d.ArchiveFiles = []Entry{e}
		default:
			continue
		}
		d.Title = DeriveTitle(&cfg.Title, e.Path, true)
		d.PreviewFiles = matchingPreviews(rootPreviews, e)
		out = append(out, d)
	}
	return out
}

// detectNested finds the shallowest folders that qualify as designs and
// claims their whole subtrees.
func detectNested(entries []Entry, cfg *Config) []DesignFolder {
	// collect every directory, including implicit parents of listed files
	dirSet := make(map[string]struct{})
	for _, e := range entries {
		p := e.Path
		if !e.IsDir {
			p = path.Dir(p)
		}
		for p != "." && p != "" && p != "/" {
			dirSet[p] = struct{}{}
			p = path.Dir(p)
		}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs) // shallow paths sort before their children

	var out []DesignFolder
	claimed := make([]string, 0)
	for _, dir := range dirs {
		if isClaimed(claimed, dir) {
			continue
		}
		// model subfolders belong to their parent design
		if containsFold(cfg.Detection.ModelSubfolders, path.Base(dir)) {
			continue
		}
		if !qualifies(entries, dir, cfg) {
			continue
		}
		out = append(out, buildDesign(entries, dir, cfg))
		claimed = append(claimed, dir+"/")
	}
	return out
}

// detectAtDepth short-circuits detection: every folder at exactly depth n
// is a design regardless of content.
func detectAtDepth(entries []Entry, cfg *Config, n int) []DesignFolder {
	var out []DesignFolder
	for _, e := range entries {
		if e.IsDir && depthOf(e.Path) == n {
			out = append(out, buildDesign(entries, e.Path, cfg))
		}
	}
	return out
}

// qualifies reports whether dir holds enough model files (recursively,
// archives count when min is 0 or no bare models exist).
func qualifies(entries []Entry, dir string, cfg *Config) bool {
	models, archives := 0, 0
	prefix := dir + "/"
	for _, e := range entries {
		if e.IsDir || !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		switch {
		case containsFold(cfg.Detection.ModelExtensions, e.Ext()):
			models++
		case containsFold(cfg.Detection.ArchiveExtensions, e.Ext()):
			archives++
		}
	}
	min := cfg.Detection.MinModelFiles
	if min <= 0 {
		min = 1
	}
	ok := models >= min || (models == 0 && archives > 0)
	if ok && cfg.Detection.RequirePreviewFolder {
		ok = hasPreviewFolder(entries, dir, &cfg.Preview)
	}
	return ok
}

func hasPreviewFolder(entries []Entry, dir string, pv *PreviewConfig) bool {
	prefix := dir + "/"
	for _, e := range entries {
		if !e.IsDir || !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		if containsFold(pv.Folders, e.Name()) || matchesAnyGlob(pv.FolderPatterns, e.Name()) {
			return true
		}
	}
	return false
}

// buildDesign classifies every file under dir.
func buildDesign(entries []Entry, dir string, cfg *Config) DesignFolder {
	d := DesignFolder{
		Path:  dir,
		Title: DeriveTitle(&cfg.Title, dir, false),
	}
	prefix := dir + "/"
	for _, e := range entries {
		if e.IsDir || !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		rel := strings.TrimPrefix(e.Path, prefix)
		switch {
		case containsFold(cfg.Detection.ModelExtensions, e.Ext()):
			d.ModelFiles = append(d.ModelFiles, e)
		case containsFold(cfg.Detection.ArchiveExtensions, e.Ext()):
			d.ArchiveFiles = append(d.ArchiveFiles, e)
		case isPreviewFile(e, rel, &cfg.Preview):
			d.PreviewFiles = append(d.PreviewFiles, e)
		default:
			d.OtherFiles = append(d.OtherFiles, e)
		}
		if cfg.AutoTags.FromSubfolders {
			d.Tags = appendSubfolderTags(d.Tags, rel, &cfg.AutoTags)
		}
	}
	return d
}

// isPreviewFile accepts images in configured preview folders, or anywhere
// under the design when include_root is set.
func isPreviewFile(e Entry, rel string, pv *PreviewConfig) bool {
	if !containsFold(pv.ImageExtensions, e.Ext()) {
		return false
	}
	dir := path.Dir(rel)
	if dir == "." {
		return pv.IncludeRoot
	}
	for _, part := range strings.Split(dir, "/") {
		if containsFold(pv.Folders, part) || matchesAnyGlob(pv.FolderPatterns, part) {
			return true
		}
	}
	return false
}

// appendSubfolderTags turns the first n path segments under the design into
// tags, stripped and deduplicated.
func appendSubfolderTags(tags []string, rel string, at *AutoTagsConfig) []string {
	levels := at.SubfolderLevels
	if levels <= 0 {
		levels = 1
	}
	parts := strings.Split(path.Dir(rel), "/")
	if parts[0] == "." {
		return tags
	}
	if len(parts) > levels {
		parts = parts[:levels]
	}
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(stripPatterns(p, at.StripPatterns)))
		if t == "" || len(t) < 2 {
			continue
		}
		if !containsFold(tags, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

// collectPreviews gathers root-level preview images for flat mode.
func collectPreviews(entries []Entry, cfg *Config, dir string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if dir == "" && depthOf(e.Path) != 1 {
			continue
		}
		if containsFold(cfg.Preview.ImageExtensions, e.Ext()) {
			out = append(out, e)
		}
	}
	return out
}

// matchingPreviews pairs a flat model file with same-stem images.
func matchingPreviews(previews []Entry, model Entry) []Entry {
	stem := strings.TrimSuffix(model.Name(), path.Ext(model.Name()))
	var out []Entry
	for _, p := range previews {
		ps := strings.TrimSuffix(p.Name(), path.Ext(p.Name()))
		if strings.EqualFold(ps, stem) {
			out = append(out, p)
		}
	}
	return out
}

// DeriveTitle builds the design title from the configured source path.
func DeriveTitle(tc *TitleConfig, p string, isFile bool) string {
	var raw string
	switch tc.Source {
	case TitleFromParentFolder:
		parent := path.Dir(p)
		if parent == "." || parent == "/" {
			raw = path.Base(p)
		} else {
			raw = path.Base(parent)
		}
	case TitleFromFilename:
		raw = path.Base(p)
		if isFile {
			raw = strings.TrimSuffix(raw, path.Ext(raw))
		}
	default: // folder_name
		raw = path.Base(p)
		if isFile {
			raw = strings.TrimSuffix(raw, path.Ext(raw))
		}
	}
	raw = stripPatterns(raw, tc.StripPatterns)
	raw = strings.TrimSpace(strings.Join(strings.Fields(raw), " "))
	switch tc.CaseTransform {
	case CaseLower:
		raw = strings.ToLower(raw)
	case CaseUpper:
		raw = strings.ToUpper(raw)
	case CaseTitle:
		raw = titleCase(raw)
	}
	return raw
}

func stripPatterns(s string, patterns []string) string {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			// validated at parse time; a literal fallback keeps stored
			// legacy profiles working
			s = strings.ReplaceAll(s, p, "")
			continue
		}
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(words, " ")
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// matchesAnyGlob does shell-style matching with * wildcards, case folded.
func matchesAnyGlob(patterns []string, name string) bool {
	lname := strings.ToLower(name)
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), lname); err == nil && ok {
			return true
		}
	}
	return false
}

// isClaimed reports whether dir sits inside an already-claimed design.
func isClaimed(claimed []string, dir string) bool {
	for _, c := range claimed {
		if strings.HasPrefix(dir+"/", c) {
			return true
		}
	}
	return false
}
