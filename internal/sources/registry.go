// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/metrics"
)

// Registry holds the constructed adapters, keyed by name, each wrapped in
// its guard. Adapters are selected at construction time, never per call.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Guarded
	log      *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]*Guarded),
		log:      logger.Named("sources"),
	}
}

// Register wraps an adapter in its guard and stores it under its name.
func (r *Registry) Register(a Adapter, m *metrics.Set) *Guarded {
	g := newGuarded(a, m, r.log)
	r.mu.Lock()
	r.adapters[a.Name()] = g
	r.mu.Unlock()
	return g
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (*Guarded, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.adapters[name]
	if !ok {
		return nil, cerrors.Ef(cerrors.KindNotFound, "no source adapter named %q", name)
	}
	return g, nil
}

// All returns every registered adapter.
func (r *Registry) All() []*Guarded {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Guarded, 0, len(r.adapters))
	for _, g := range r.adapters {
		out = append(out, g)
	}
	return out
}

// SetRate updates the per-adapter upstream call budget, calls per second.
func (r *Registry) SetRate(callsPerSecond float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.adapters {
		g.limiter.SetLimit(rate.Limit(callsPerSecond))
	}
}

// Guarded wraps an adapter with a rate limiter and a circuit breaker. An
// open breaker surfaces as a transient error so jobs land on the retry
// ladder instead of failing terminally.
type Guarded struct {
	inner   Adapter
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Set
	log     *zap.Logger
}

func newGuarded(a Adapter, m *metrics.Set, logger *zap.Logger) *Guarded {
	g := &Guarded{
		inner:   a,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		metrics: m,
		log:     logger.Named(a.Name()),
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    a.Name(),
		Timeout: 60 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// only infrastructure failures trip the breaker
			if err == nil {
				return true
			}
			switch cerrors.KindOf(err) {
			case cerrors.KindTransient, cerrors.KindRateLimited, cerrors.KindUpstream:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("adapter breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return g
}

// Name returns the wrapped adapter's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// Scan delegates after passing the guard.
func (g *Guarded) Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (int64, error) {
	var cursor int64
	err := g.call(ctx, "scan", func() error {
		var err error
		cursor, err = g.inner.Scan(ctx, req, emit)
		return err
	})
	return cursor, err
}

// FetchBytes delegates after passing the guard.
func (g *Guarded) FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error) {
	var (
		rc   io.ReadCloser
		size int64
	)
	err := g.call(ctx, "fetch", func() error {
		var err error
		rc, size, err = g.inner.FetchBytes(ctx, fetchRef)
		return err
	})
	return rc, size, err
}

// Probe delegates directly; health checks bypass the breaker so an open
// breaker is itself observable.
func (g *Guarded) Probe(ctx context.Context) error {
	if g.breaker.State() == gobreaker.StateOpen {
		return cerrors.Ef(cerrors.KindUpstream, "adapter %s breaker is open", g.Name())
	}
	return g.inner.Probe(ctx)
}

func (g *Guarded) call(ctx context.Context, op string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return cerrors.Wrap(cerrors.KindTransient, "rate limit wait interrupted", err)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.AdapterCalls.WithLabelValues(g.Name(), outcome).Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return cerrors.Ef(cerrors.KindTransient, "%s %s: circuit breaker is open", g.Name(), op)
	}
	return err
}
