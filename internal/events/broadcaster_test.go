// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(TypeDesignCreated, map[string]any{"design_id": 7})

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, TypeDesignCreated, ev.Type)
			assert.False(t, ev.TS.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	slow := b.Subscribe()
	// fill the buffer without draining, then one more to trip the drop
	for i := 0; i < cap(slow.C)+1; i++ {
		b.Publish(TypeJobProgress, nil)
	}
	assert.Equal(t, 0, b.SubscriberCount())

	// channel is closed after the buffered events drain
	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, cap(slow.C), n)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// double unsubscribe is harmless
	b.Unsubscribe(sub)
}

func TestCloseStopsEverything(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	sub := b.Subscribe()

	b.Close()
	_, open := <-sub.C
	assert.False(t, open)

	// publish after close is a no-op
	b.Publish(TypeHeartbeat, nil)

	// subscribing after close yields an already-closed channel
	late := b.Subscribe()
	_, open = <-late.C
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestEventJSON(t *testing.T) {
	ev := Event{Type: TypeJobCompleted, Data: map[string]any{"job_id": 3}, TS: time.Unix(0, 0).UTC()}
	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ev.JSON(), &decoded))
	assert.Equal(t, TypeJobCompleted, decoded.Type)
	assert.EqualValues(t, 3, decoded.Data["job_id"])
}
