// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package library moves finished downloads from staging into the organised
// library tree. Placement is template-driven, collisions get a numeric
// suffix, and moves prefer rename with a copy fallback across devices.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

// DefaultTemplate is the library layout when the setting is unset.
const DefaultTemplate = "{designer}/{channel}/{title}"

// maxConflictSuffix bounds the " (2)".." (10)" collision probe.
const maxConflictSuffix = 10

// reservedReplacer maps path-unsafe characters to underscore.
var reservedReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_",
	`\`, "_", "|", "_", "?", "_", "*", "_",
)

// Vars are the values substituted into the path template.
type Vars struct {
	Designer string
	Channel  string
	Title    string
	Date     time.Time
}

// SanitizeComponent makes one template value safe as a single path
// segment.
func SanitizeComponent(s string) string {
	s = reservedReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
	s = strings.Trim(s, " .")
	if s == "" {
		return "_"
	}
	return s
}

// RenderTemplate expands the template into a relative library path with
// every component sanitised.
func RenderTemplate(tmpl string, v Vars) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	r := strings.NewReplacer(
		"{designer}", SanitizeComponent(v.Designer),
		"{channel}", SanitizeComponent(v.Channel),
		"{title}", SanitizeComponent(v.Title),
		"{date}", v.Date.UTC().Format("2006-01-02"),
	)
	out := r.Replace(tmpl)
	if strings.Contains(out, "{") {
		return "", cerrors.Ef(cerrors.KindValidation, "library template has unknown variable: %s", tmpl)
	}
	out = filepath.ToSlash(filepath.Clean(out))
	if out == "." || strings.HasPrefix(out, "..") || strings.HasPrefix(out, "/") {
		return "", cerrors.Ef(cerrors.KindValidation, "library template resolves outside the library root: %s", tmpl)
	}
	return out, nil
}

// Service owns the library root.
type Service struct {
	root string
	log  *zap.Logger
}

// New builds the library service over its root directory.
func New(root string, logger *zap.Logger) *Service {
	return &Service{root: root, log: logger.Named("library")}
}

// Root returns the library root path.
func (s *Service) Root() string { return s.root }

// Result reports where an import landed. Moved maps each staging rel path
// to its new library rel path.
type Result struct {
	LibraryRel string
	Moved      map[string]string
}

// Import moves every file under stagingDir into the templated library
// directory, preserving the staged structure, then prunes the emptied
// staging tree. An empty staging directory is a no-op, which makes the
// operation idempotent after success.
func (s *Service) Import(ctx context.Context, stagingDir, tmpl string, v Vars) (*Result, error) {
	files, err := listFiles(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{Moved: map[string]string{}}, nil
		}
		return nil, err
	}
	if len(files) == 0 {
		return &Result{Moved: map[string]string{}}, nil
	}

	rel, err := RenderTemplate(tmpl, v)
	if err != nil {
		return nil, err
	}
	rel, destAbs, err := s.resolveConflict(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destAbs, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	moved := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(destAbs, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("create library subdir: %w", err)
		}
		if err := moveFile(filepath.Join(stagingDir, filepath.FromSlash(f)), dst); err != nil {
			return nil, err
		}
		moved[f] = filepath.ToSlash(filepath.Join(rel, f))
	}
	pruneEmptyDirs(stagingDir)
	s.log.Info("design imported to library",
		zap.String("path", rel), zap.Int("files", len(moved)))
	return &Result{LibraryRel: rel, Moved: moved}, nil
}

// resolveConflict probes rel, then "rel (2)".."rel (10)" for a directory
// that does not exist yet or is empty.
func (s *Service) resolveConflict(rel string) (string, string, error) {
	for i := 1; i <= maxConflictSuffix; i++ {
		candidate := rel
		if i > 1 {
			candidate = fmt.Sprintf("%s (%d)", rel, i)
		}
		abs := filepath.Join(s.root, filepath.FromSlash(candidate))
		entries, err := os.ReadDir(abs)
		if os.IsNotExist(err) || (err == nil && len(entries) == 0) {
			return candidate, abs, nil
		}
		if err != nil {
			return "", "", fmt.Errorf("probe library dir: %w", err)
		}
	}
	return "", "", cerrors.Ef(cerrors.KindPermanent,
		"library path %q has %d conflicting directories", rel, maxConflictSuffix)
}

// listFiles returns rel slash paths of regular files under dir, sorted.
func listFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// moveFile renames, falling back to copy+delete when the library sits on
// another device.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create library file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy to library: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("flush library file: %w", err)
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var lerr *os.LinkError
	if !errors.As(err, &lerr) {
		return false
	}
	return strings.Contains(strings.ToLower(lerr.Err.Error()), "cross-device")
}

// pruneEmptyDirs removes now-empty directories bottom-up, the root
// included.
func pruneEmptyDirs(dir string) {
	var dirs []string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		os.Remove(d)
	}
}
