// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	// approxCountThreshold is the estimated row count above which
	// unfiltered list totals switch to the planner statistics.
	approxCountThreshold = 10_000

	approxCountTTL = 30 * time.Second
	exactCountTTL  = 5 * time.Second
)

type countEntry struct {
	n       int64
	exact   bool
	expires time.Time
}

// countCache memoises list totals. Entries are keyed "table|filtersig" so a
// write to a table can drop every cached total derived from it.
type countCache struct {
	mu      sync.Mutex
	entries map[string]countEntry
}

func newCountCache() *countCache {
	return &countCache{entries: make(map[string]countEntry)}
}

func (c *countCache) get(key string) (int64, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return 0, false, false
	}
	return e.n, e.exact, true
}

func (c *countCache) put(key string, n int64, exact bool) {
	ttl := exactCountTTL
	if !exact {
		ttl = approxCountTTL
	}
	c.mu.Lock()
	c.entries[key] = countEntry{n: n, exact: exact, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// invalidate drops every entry whose key starts with "table|".
func (c *countCache) invalidate(table string) {
	prefix := table + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// countRows returns the total for a list query. Unfiltered counts on large
// tables come from pg_class.reltuples; everything else is an exact count
// over the given WHERE clause. Results are cached per (table, filter).
func (s *Store) countRows(ctx context.Context, q Querier, table, where string, args ...interface{}) (int64, bool, error) {
	key := table + "|" + where
	if n, exact, ok := s.counts.get(key); ok {
		return n, exact, nil
	}

	if where == "" {
		var est int64
		err := sqlx.GetContext(ctx, q, &est,
			`SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, table)
		if err == nil && est > approxCountThreshold {
			s.counts.put(key, est, false)
			return est, false, nil
		}
	}

	query := `SELECT count(*) FROM ` + table
	if where != "" {
		query += ` WHERE ` + where
	}
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, false, err
	}
	s.counts.put(key, n, true)
	return n, true, nil
}

// markDirty invalidates cached totals after a write.
func (s *Store) markDirty(tables ...string) {
	for _, t := range tables {
		s.counts.invalidate(t)
	}
}
