package logstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

func TestActivity_RecordAndSnapshot(t *testing.T) {
	hub := NewHub(10)
	sub := hub.Subscribe("sub-1", nil)
	defer hub.Unsubscribe("sub-1")

	a := NewActivity(hub, 10)
	ctx := context.Background()

	a.Record(ctx, domain.NewLogActivity(domain.LevelInfo, "campaign started"))
	a.Record(ctx, domain.OutcomeActivity("c-1", domain.SendOutcome{Identity: "a@x.com", Success: true}))
	a.Record(ctx, domain.OutcomeActivity("c-1", domain.SendOutcome{Identity: "b@x.com", Error: "HTTP 500: boom"}))

	entries := a.Snapshot(nil, 0)
	require.Len(t, entries, 3)
	assert.Equal(t, "campaign started", entries[0].Message)
	assert.Equal(t, "a@x.com", entries[1].Identity)
	assert.Equal(t, "HTTP 500: boom", entries[2].Error)

	failed := a.Snapshot(&Filter{Statuses: []string{"failed"}}, 0)
	require.Len(t, failed, 1)
	assert.Equal(t, "b@x.com", failed[0].Identity)

	for i := 0; i < 3; i++ {
		select {
		case <-sub.Ch:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("entry %d not published", i)
		}
	}
}

func TestActivity_Defaults(t *testing.T) {
	a := NewActivity(nil, 0)
	assert.Len(t, a.entries, DefaultCapacity)

	a.Record(context.Background(), domain.Activity{Message: "bare"})
	entries := a.Snapshot(nil, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LevelInfo, entries[0].Level)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestActivity_RingWraps(t *testing.T) {
	a := NewActivity(nil, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.Record(ctx, domain.NewLogActivity(domain.LevelInfo, fmt.Sprintf("entry %d", i)))
	}

	assert.Equal(t, 3, a.Len())
	entries := a.Snapshot(nil, 0)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, "entry 4", entries[2].Message)

	latest := a.Snapshot(nil, 2)
	require.Len(t, latest, 2)
	assert.Equal(t, "entry 3", latest[0].Message)
}

func TestActivity_ProgressIsStreamedNotKept(t *testing.T) {
	hub := NewHub(10)
	sub := hub.Subscribe("sub-1", &Filter{Kinds: []string{"progress"}})
	defer hub.Unsubscribe("sub-1")

	a := NewActivity(hub, 10)
	a.Record(context.Background(), domain.NewProgressActivity("c-1", domain.ProgressSnapshot{Total: 2, Sent: 1}))

	assert.Equal(t, 0, a.Len())
	select {
	case got := <-sub.Ch:
		require.NotNil(t, got.Progress)
		assert.Equal(t, 1, got.Progress.Sent)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("progress not published")
	}
}

func TestActivity_Clear(t *testing.T) {
	a := NewActivity(nil, 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		a.Record(ctx, domain.NewLogActivity(domain.LevelInfo, "x"))
	}

	a.Clear()
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.Snapshot(nil, 0))
}
