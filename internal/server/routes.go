// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/", s.handleCreateChannel)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetChannel)
				r.Patch("/", s.handleUpdateChannel)
				r.Delete("/", s.handleDeleteChannel)
				r.Post("/backfill", s.handleBackfillChannel)
				r.Get("/backfill", s.handleBackfillStatus)
				r.Put("/download-mode", s.handleSetDownloadMode)
				r.Get("/calendar", s.handleChannelCalendar)
			})
		})

		r.Route("/designs", func(r chi.Router) {
			r.Get("/", s.handleListDesigns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDesign)
				r.Patch("/", s.handleUpdateDesign)
				r.Post("/download", s.handleDownloadDesign)
				r.Put("/multicolor", s.handleSetMulticolor)
				r.Post("/tags", s.handleAssignTag)
				r.Delete("/tags/{tagID}", s.handleUnassignTag)
				r.Get("/metadata/search", s.handleMetadataSearch)
				r.Post("/metadata/link", s.handleMetadataLink)
			})
		})

		r.Route("/duplicates", func(r chi.Router) {
			r.Get("/", s.handleListDuplicates)
			r.Post("/{id}/merge", s.handleMergeDuplicate)
			r.Post("/{id}/reject", s.handleRejectDuplicate)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/activity", s.handleJobActivity)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/cancel", s.handleCancelJob)
				r.Put("/priority", s.handleSetJobPriority)
				r.Post("/retry", s.handleRetryJob)
			})
		})

		r.Route("/import-sources", func(r chi.Router) {
			r.Get("/", s.handleListImportSources)
			r.Post("/", s.handleCreateImportSource)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetImportSource)
				r.Patch("/", s.handleUpdateImportSource)
				r.Delete("/", s.handleDeleteImportSource)
				r.Post("/sync", s.handleSyncImportSource)
				r.Get("/history", s.handleImportHistory)
				r.Post("/folders", s.handleAddImportFolder)
				r.Delete("/folders/{folderID}", s.handleDeleteImportFolder)
			})
		})

		r.Route("/import-profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleCreateProfile)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Put("/", s.handleUpdateProfile)
				r.Delete("/", s.handleDeleteProfile)
			})
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleUploadStatus)
			r.Post("/process", s.handleProcessUploads)
			r.Delete("/{name}", s.handleDeleteUpload)
			r.Post("/cleanup", s.handleCleanupUploads)
		})

		r.Get("/tags", s.handleListTags)

		r.Route("/families", func(r chi.Router) {
			r.Get("/", s.handleListFamilies)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFamily)
				r.Put("/", s.handleRenameFamily)
				r.Post("/members", s.handleAssignFamilyMember)
				r.Delete("/members/{designID}", s.handleDetachFamilyMember)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Get("/schema", s.handleSettingsSchema)
			r.Post("/reset", s.handleResetSettings)
			r.Put("/{key}", s.handlePutSetting)
			r.Delete("/{key}", s.handleDeleteSetting)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/dashboard", s.handleDashboardStats)
			r.Get("/calendar", s.handleStatsCalendar)
			r.Get("/queue", s.handleQueueStats)
			r.Get("/storage", s.handleStorageStats)
		})
	})

	return r
}
