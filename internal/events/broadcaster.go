// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package events is the in-process pub/sub fabric behind the SSE stream.
// Publishers never block: the hub buffers, and subscribers that stop
// draining are disconnected rather than allowed to stall the pipeline.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event type names carried on the stream.
const (
	TypeJobCreated          = "job_created"
	TypeJobStarted          = "job_started"
	TypeJobProgress         = "job_progress"
	TypeJobCompleted        = "job_completed"
	TypeJobFailed           = "job_failed"
	TypeJobCanceled         = "job_canceled"
	TypeQueueUpdated        = "queue_updated"
	TypeDesignCreated       = "design_created"
	TypeDesignStatusChanged = "design_status_changed"
	TypeFamilyDetected      = "family_detected"
	TypeDuplicateFound      = "duplicate_found"
	TypeSyncStatus          = "sync_status"
	TypeHeartbeat           = "heartbeat"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// Event is one envelope on the stream.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	TS   time.Time   `json:"ts"`
}

// JSON renders the envelope once for fan-out.
func (e Event) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"` + e.Type + `"}`)
	}
	return b
}

// Subscriber receives the fan-out. C closes when the subscriber is dropped
// or the broadcaster shuts down.
type Subscriber struct {
	C      chan Event
	closed bool
}

// Broadcaster fans events out to every live subscriber.
type Broadcaster struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
	done chan struct{}
	once sync.Once
}

// NewBroadcaster builds an idle broadcaster; call Run to start heartbeats.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		log:  logger.Named("events"),
		subs: make(map[*Subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// Run emits heartbeats until the context ends, then closes the broadcaster.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.Publish(TypeHeartbeat, nil)
		}
	}
}

// Subscribe registers a new consumer with a buffered delivery channel.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan Event, 64)}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		// already shut down; hand back a closed channel
		close(sub.C)
		sub.closed = true
		return sub
	default:
	}
	b.subs[sub] = struct{}{}
	b.log.Debug("subscriber connected", zap.Int("total", len(b.subs)))
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.C)
		sub.closed = true
		b.log.Debug("subscriber disconnected", zap.Int("total", len(b.subs)))
	}
}

// Publish fans an event out without blocking. A subscriber with a full
// buffer is dropped on the spot; a consumer that slow would otherwise back
// the whole pipeline up.
func (b *Broadcaster) Publish(eventType string, data interface{}) {
	ev := Event{Type: eventType, Data: data, TS: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return
	default:
	}
	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			delete(b.subs, sub)
			close(sub.C)
			sub.closed = true
			b.log.Warn("dropping slow event subscriber", zap.String("event", eventType))
		}
	}
}

// SubscriberCount reports the number of live consumers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber and stops accepting new ones.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		close(b.done)
		for sub := range b.subs {
			delete(b.subs, sub)
			close(sub.C)
			sub.closed = true
		}
	})
}
