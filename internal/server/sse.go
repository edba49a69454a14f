// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/http"

	"github.com/printarr/printarr/internal/cerrors"
)

// handleEvents streams the event bus over SSE. Each event goes out as an
// `event:`/`data:` pair; the bus's 30 s heartbeat keeps intermediaries
// from timing the connection out.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondErr(w, r, cerrors.E(cerrors.KindInternal, "streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	s.metrics.EventSubscribers.Inc()
	defer s.metrics.EventSubscribers.Dec()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.JSON()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
