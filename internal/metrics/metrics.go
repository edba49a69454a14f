// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics owns the Prometheus registry and every collector the
// service exports on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles all collectors on one registry.
type Set struct {
	registry *prometheus.Registry

	JobsEnqueued    *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	EventSubscribers prometheus.Gauge
	MessagesIngested prometheus.Counter
	DesignsCreated   prometheus.Counter
	BytesDownloaded  prometheus.Counter
	AdapterCalls     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New builds the registry with process and Go runtime collectors attached.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Set{
		registry: reg,
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "queue", Name: "jobs_enqueued_total",
			Help: "Jobs enqueued, by kind.",
		}, []string{"kind"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "queue", Name: "jobs_finished_total",
			Help: "Job attempt outcomes, by kind and outcome (success, retry, failed, canceled).",
		}, []string{"kind", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "printarr", Subsystem: "queue", Name: "job_duration_seconds",
			Help:    "Wall time of finished job attempts, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printarr", Subsystem: "queue", Name: "depth",
			Help: "Jobs currently queued or running.",
		}, []string{"state"}),
		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "printarr", Subsystem: "events", Name: "subscribers",
			Help: "Connected event-stream subscribers.",
		}),
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "ingest", Name: "messages_total",
			Help: "Messages ingested across all channels.",
		}),
		DesignsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "ingest", Name: "designs_created_total",
			Help: "Designs created by ingestion and import.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "download", Name: "bytes_total",
			Help: "Attachment bytes fetched from upstream sources.",
		}),
		AdapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "adapter", Name: "calls_total",
			Help: "Upstream adapter calls, by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printarr", Subsystem: "http", Name: "requests_total",
			Help: "API requests, by method and status class.",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "printarr", Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		s.JobsEnqueued, s.JobsFinished, s.JobDuration, s.QueueDepth,
		s.EventSubscribers, s.MessagesIngested, s.DesignsCreated,
		s.BytesDownloaded, s.AdapterCalls, s.HTTPRequests, s.HTTPDuration,
	)
	return s
}

// Handler serves the registry in the Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
