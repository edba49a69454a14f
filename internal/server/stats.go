// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"golang.org/x/sys/unix"
)

// handleDashboardStats aggregates the landing-page numbers.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := s.store.DB()

	designs, err := s.store.CountDesignsByStatus(ctx, db)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	jobs, err := s.store.CountJobsByStatus(ctx, db)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	storage, err := s.store.LibraryStorageTotal(ctx, db)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"designs_by_status":  designs,
		"jobs_by_status":     jobs,
		"library_size_bytes": storage,
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatsCalendar serves the heatmap aggregated over every channel.
func (s *Server) handleStatsCalendar(w http.ResponseWriter, r *http.Request) {
	s.respondCalendar(w, r, "")
}

// handleQueueStats reports live queue depth.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	queued, running, err := s.queue.Depth(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	byStatus, err := s.store.CountJobsByStatus(r.Context(), s.store.DB())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queued": queued, "running": running, "by_status": byStatus,
	})
}

// handleStorageStats reports catalogued bytes plus free space on the
// library volume.
func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.LibraryStorageTotal(r.Context(), s.store.DB())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	body := map[string]interface{}{"library_size_bytes": total}
	var st unix.Statfs_t
	if err := unix.Statfs(s.library.Root(), &st); err == nil {
		body["disk_free_bytes"] = int64(st.Bavail) * st.Bsize
		body["disk_total_bytes"] = int64(st.Blocks) * st.Bsize
	}
	s.respondJSON(w, http.StatusOK, body)
}
