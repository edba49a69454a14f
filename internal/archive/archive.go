// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package archive extracts downloaded design archives in the staging area.
// Zip, RAR (including split volumes), 7z and tar are supported. Extraction
// goes one nesting level deep: an archive found inside an extracted archive
// is extracted once and never recursed further. Password-protected, corrupt
// and incomplete archives fail permanently.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

// maxExtractedFiles caps one archive's entry count.
const maxExtractedFiles = 10000

// rarPartRe matches split-volume names like "model.part3.rar"; only the
// first part is opened, rardecode follows the rest.
var rarPartRe = regexp.MustCompile(`(?i)\.part(\d+)\.rar$`)

// rarContinuationRe matches old-style continuation volumes (.r00, .r01).
var rarContinuationRe = regexp.MustCompile(`(?i)\.r\d{2}$`)

// Extracted describes one file produced by extraction, relative to the
// staging root.
type Extracted struct {
	RelPath     string
	Size        int64
	FromArchive string // archive's rel path
}

// Service walks a staging directory and extracts everything it recognises.
type Service struct {
	log *zap.Logger
}

// New builds the extraction service.
func New(logger *zap.Logger) *Service {
	return &Service{log: logger.Named("archive")}
}

// IsArchive reports whether a filename names a supported archive format.
// Split-RAR continuation volumes count as part of their first volume, not
// as archives of their own.
func IsArchive(name string) bool {
	if rarContinuationRe.MatchString(name) {
		return false
	}
	if m := rarPartRe.FindStringSubmatch(name); m != nil {
		return strings.TrimLeft(m[1], "0") == "1"
	}
	low := strings.ToLower(name)
	for _, ext := range []string{".zip", ".rar", ".7z", ".tar", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(low, ext) {
			return true
		}
	}
	return false
}

// ExtractAll extracts every archive under root, then one more pass over
// archives the first pass produced. Returns the extracted files and the
// rel paths of the archives consumed.
func (s *Service) ExtractAll(ctx context.Context, root string) ([]Extracted, []string, error) {
	archives, err := findArchives(root)
	if err != nil {
		return nil, nil, err
	}
	var (
		out      []Extracted
		consumed []string
		nested   []string
	)
	for _, rel := range archives {
		files, err := s.extractOne(ctx, root, rel)
		if err != nil {
			return nil, nil, err
		}
		consumed = append(consumed, rel)
		for _, f := range files {
			out = append(out, f)
			if IsArchive(filepath.Base(f.RelPath)) {
				nested = append(nested, f.RelPath)
			}
		}
	}
	// one nesting level: nested archives are extracted, their own nested
	// archives are left alone
	for _, rel := range nested {
		files, err := s.extractOne(ctx, root, rel)
		if err != nil {
			return nil, nil, err
		}
		consumed = append(consumed, rel)
		out = append(out, files...)
	}
	return out, consumed, nil
}

// findArchives lists archive rel paths under root, stable order.
func findArchives(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsArchive(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan for archives: %w", err)
	}
	return out, nil
}

// extractOne dispatches on format. The destination directory is the
// archive's own directory plus its stem, so siblings never collide.
func (s *Service) extractOne(ctx context.Context, root, rel string) ([]Extracted, error) {
	src := filepath.Join(root, rel)
	dest := filepath.Join(root, destDirFor(rel))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	low := strings.ToLower(rel)
	var (
		files []Extracted
		err   error
	)
	switch {
	case strings.HasSuffix(low, ".zip"):
		files, err = s.extractZip(ctx, src, root, dest, rel)
	case strings.HasSuffix(low, ".rar"):
		files, err = s.extractRar(ctx, src, root, dest, rel)
	case strings.HasSuffix(low, ".7z"):
		files, err = s.extract7z(ctx, src, root, dest, rel)
	case strings.HasSuffix(low, ".tar"), strings.HasSuffix(low, ".tar.gz"), strings.HasSuffix(low, ".tgz"):
		files, err = s.extractTar(ctx, src, root, dest, rel)
	default:
		return nil, cerrors.Ef(cerrors.KindPermanent, "unsupported archive format: %s", rel)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("archive extracted",
		zap.String("archive", rel), zap.Int("files", len(files)))
	return files, nil
}

func destDirFor(rel string) string {
	base := filepath.Base(rel)
	if m := rarPartRe.FindStringIndex(base); m != nil {
		base = base[:m[0]]
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
		base = strings.TrimSuffix(base, ".tar")
	}
	if base == "" {
		base = "extracted"
	}
	return filepath.Join(filepath.Dir(rel), base)
}

func (s *Service) extractZip(ctx context.Context, src, root, dest, fromRel string) ([]Extracted, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt zip archive", err)
	}
	defer r.Close()

	if len(r.File) > maxExtractedFiles {
		return nil, cerrors.Ef(cerrors.KindPermanent, "archive has too many entries (%d)", len(r.File))
	}
	var out []Extracted
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Flags&0x1 != 0 {
			return nil, cerrors.E(cerrors.KindPermanent, "archive is password protected")
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt zip entry", err)
		}
		e, err := writeEntry(root, dest, fromRel, f.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Service) extractRar(ctx context.Context, src, root, dest, fromRel string) ([]Extracted, error) {
	r, err := rardecode.OpenReader(src)
	if err != nil {
		return nil, classifyRarErr(err)
	}
	defer r.Close()

	var out []Extracted
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyRarErr(err)
		}
		if hdr.IsDir {
			continue
		}
		e, err := writeEntry(root, dest, fromRel, hdr.Name, r)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
		if len(out) > maxExtractedFiles {
			return nil, cerrors.E(cerrors.KindPermanent, "archive has too many entries")
		}
	}
	return out, nil
}

// classifyRarErr maps rardecode failures onto the error taxonomy: missing
// volumes and password prompts are permanent, like corruption.
func classifyRarErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case os.IsNotExist(err), strings.Contains(msg, "volume"):
		return cerrors.Wrap(cerrors.KindPermanent, "split archive is missing a part", err)
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypt"):
		return cerrors.Wrap(cerrors.KindPermanent, "archive is password protected", err)
	default:
		return cerrors.Wrap(cerrors.KindPermanent, "corrupt rar archive", err)
	}
}

func (s *Service) extract7z(ctx context.Context, src, root, dest, fromRel string) ([]Extracted, error) {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
			return nil, cerrors.Wrap(cerrors.KindPermanent, "archive is password protected", err)
		}
		return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt 7z archive", err)
	}
	defer r.Close()

	if len(r.File) > maxExtractedFiles {
		return nil, cerrors.Ef(cerrors.KindPermanent, "archive has too many entries (%d)", len(r.File))
	}
	var out []Extracted
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt 7z entry", err)
		}
		e, err := writeEntry(root, dest, fromRel, f.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Service) extractTar(ctx context.Context, src, root, dest, fromRel string) ([]Extracted, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var src2 io.Reader = f
	low := strings.ToLower(src)
	if strings.HasSuffix(low, ".gz") || strings.HasSuffix(low, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt gzip stream", err)
		}
		defer gz.Close()
		src2 = gz
	}
	tr := tar.NewReader(src2)
	var out []Extracted
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt tar archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		e, err := writeEntry(root, dest, fromRel, hdr.Name, tr)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
		if len(out) > maxExtractedFiles {
			return nil, cerrors.E(cerrors.KindPermanent, "archive has too many entries")
		}
	}
	return out, nil
}

// writeEntry streams one archive entry to disk. Entries escaping the
// destination directory are rejected; empty names are skipped.
func writeEntry(root, dest, fromRel, name string, r io.Reader) (*Extracted, error) {
	name = filepath.FromSlash(name)
	if name == "" {
		return nil, nil
	}
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return nil, cerrors.Ef(cerrors.KindPermanent, "archive entry escapes destination: %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create entry dir: %w", err)
	}
	w, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create extracted file: %w", err)
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return nil, cerrors.Wrap(cerrors.KindPermanent, "corrupt archive entry", err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return nil, err
	}
	return &Extracted{RelPath: filepath.ToSlash(rel), Size: n, FromArchive: fromRel}, nil
}
