// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/printarr/printarr/internal/version"
)

// handleHealth is the liveness probe: up and able to answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

type subsystemHealth struct {
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// handleHealthDetailed probes each subsystem: database, queue, adapters
// and the library volume. Any failing subsystem turns the overall response
// into a 503.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	subs := map[string]subsystemHealth{}
	healthy := true

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		subs["database"] = subsystemHealth{OK: false, Detail: err.Error()}
		healthy = false
	} else {
		subs["database"] = subsystemHealth{OK: true, Latency: time.Since(start).String()}
	}

	if queued, running, err := s.queue.Depth(ctx); err != nil {
		subs["queue"] = subsystemHealth{OK: false, Detail: err.Error()}
		healthy = false
	} else {
		subs["queue"] = subsystemHealth{
			OK:     true,
			Detail: "queued=" + itoa(queued) + " running=" + itoa(running),
		}
	}

	for _, adapter := range s.registry.All() {
		name := "adapter_" + adapter.Name()
		if err := adapter.Probe(ctx); err != nil {
			// a down adapter degrades its source, not the service
			subs[name] = subsystemHealth{OK: false, Detail: err.Error()}
		} else {
			subs[name] = subsystemHealth{OK: true}
		}
	}

	var st unix.Statfs_t
	if err := unix.Statfs(s.library.Root(), &st); err != nil {
		subs["library_volume"] = subsystemHealth{OK: false, Detail: err.Error()}
		healthy = false
	} else {
		free := int64(st.Bavail) * st.Bsize
		subs["library_volume"] = subsystemHealth{OK: true, Detail: "free_bytes=" + itoa(free)}
	}

	subs["event_bus"] = subsystemHealth{OK: true, Detail: "subscribers=" + itoa(int64(s.bus.SubscriberCount()))}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	s.respondJSON(w, status, map[string]interface{}{
		"status":     overall,
		"version":    version.Version,
		"subsystems": subs,
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
