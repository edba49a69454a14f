// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/queue"
	"github.com/printarr/printarr/internal/settings"
)

// maxUploadBytes bounds one multipart request.
const maxUploadBytes = 2 << 30

// acceptedUploadMIME are the content types the inbox takes. STL and 3MF
// are detected as model/* by sniffing; archives by their magic bytes.
var acceptedUploadMIME = []string{
	"model/", "application/zip", "application/x-rar", "application/x-7z-compressed",
	"application/x-tar", "application/gzip", "application/octet-stream",
}

func uploadMIMEAccepted(m *mimetype.MIME) bool {
	for _, prefix := range acceptedUploadMIME {
		if strings.HasPrefix(m.String(), prefix) {
			return true
		}
	}
	return false
}

// uploadFolder resolves the folder row backing the upload inbox.
func (s *Server) uploadFolder(r *http.Request) (*catalog.ImportSourceFolder, error) {
	if s.uploads == nil {
		return nil, cerrors.E(cerrors.KindNotFound, "upload source is not configured")
	}
	srcs, err := s.store.ListImportSources(r.Context(), s.store.DB(), false)
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		if src.Kind != catalog.ImportUpload {
			continue
		}
		folders, err := s.store.FoldersForSource(r.Context(), s.store.DB(), src.ID)
		if err != nil {
			return nil, err
		}
		if len(folders) > 0 {
			return &folders[0], nil
		}
	}
	return nil, cerrors.E(cerrors.KindNotFound, "upload source is not configured")
}

type uploadedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
}

// handleUpload accepts one or more multipart files into the upload inbox
// and registers a PENDING import record per file. The scheduler's
// pending-record sweep picks them up within the minute; POST /process
// forces it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	folder, err := s.uploadFolder(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "malformed multipart body", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []*multipart.FileHeader
	for _, field := range []string{"file", "files"} {
		files = append(files, r.MultipartForm.File[field]...)
	}
	if len(files) == 0 {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "no files in request"))
		return
	}

	var saved []uploadedFile
	for _, f := range files {
		uf, err := s.saveUpload(r, folder, f)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		saved = append(saved, *uf)
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"items": saved})
}

func (s *Server) saveUpload(r *http.Request, folder *catalog.ImportSourceFolder, f *multipart.FileHeader) (*uploadedFile, error) {
	src, err := f.Open()
	if err != nil {
		return nil, cerrors.E(cerrors.KindValidation, "unreadable upload", err)
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, cerrors.E(cerrors.KindValidation, "undetectable file type", err)
	}
	if !uploadMIMEAccepted(mt) {
		return nil, cerrors.Ef(cerrors.KindValidation, "unsupported file type %s", mt.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	name := filepath.Base(f.Filename)
	if name == "" || name == "." || strings.HasPrefix(name, ".") {
		return nil, cerrors.E(cerrors.KindValidation, "invalid filename")
	}
	dest := filepath.Join(s.uploads.Dir(), name)
	if err := os.MkdirAll(s.uploads.Dir(), 0o755); err != nil {
		return nil, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	rec := &catalog.ImportRecord{FolderID: folder.ID, SourcePath: dest}
	if _, err := s.store.UpsertImportRecord(r.Context(), s.store.DB(), rec); err != nil {
		return nil, err
	}
	s.log.Info("upload received", zap.String("name", name), zap.Int64("size", n))
	return &uploadedFile{Name: name, Size: n, MIME: mt.String()}, nil
}

// handleUploadStatus lists the inbox files with their import records.
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	folder, err := s.uploadFolder(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	pageNum, perPage := pagination(r)
	records, total, err := s.store.ListImportRecords(r.Context(), s.store.DB(), catalog.ImportRecordFilter{
		FolderID: folder.ID,
		Status:   catalog.ImportRecordStatus(r.URL.Query().Get("status")),
		Page:     pageNum,
		PerPage:  perPage,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPage(records, total, pageNum, perPage))
}

// handleProcessUploads queues every PENDING upload record immediately
// instead of waiting for the scheduler sweep.
func (s *Server) handleProcessUploads(w http.ResponseWriter, r *http.Request) {
	folder, err := s.uploadFolder(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	records, _, err := s.store.ListImportRecords(r.Context(), s.store.DB(), catalog.ImportRecordFilter{
		FolderID: folder.ID,
		Status:   catalog.RecordPending,
		PerPage:  500,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	queued := 0
	for _, rec := range records {
		_, created, err := s.queue.Enqueue(r.Context(), catalog.JobDownloadImportRecord, queue.Options{
			Priority:    queue.PriorityManual,
			Payload:     map[string]string{"record_id": rec.ID},
			DisplayName: "Import " + filepath.Base(rec.SourcePath),
		})
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		if created {
			queued++
		}
	}
	s.respondJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// handleDeleteUpload removes one inbox file that has not been imported.
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "upload source is not configured"))
		return
	}
	name := filepath.Base(chi.URLParam(r, "name"))
	if name == "" || name == "." || name == ".." {
		s.respondErr(w, r, cerrors.E(cerrors.KindValidation, "invalid filename"))
		return
	}
	path := filepath.Join(s.uploads.Dir(), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "no such upload"))
			return
		}
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// handleCleanupUploads removes inbox files older than the configured
// retention, same as the hourly sweep.
func (s *Server) handleCleanupUploads(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		s.respondErr(w, r, cerrors.E(cerrors.KindNotFound, "upload source is not configured"))
		return
	}
	maxAge := time.Duration(s.settings.Int(r.Context(), settings.KeyUploadCleanupHours)) * time.Hour
	if maxAge <= 0 {
		s.respondJSON(w, http.StatusOK, map[string]int{"removed": 0})
		return
	}
	n, err := s.uploads.CleanupStale(maxAge)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": n})
}
