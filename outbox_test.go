package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutboxEnqueueAndDeliver(t *testing.T) {
	ob := newOutbox(nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ob.now = func() time.Time { return now }
	ctx := context.Background()

	id, err := ob.enqueue(ctx, "SB-1", effectSheetForward, buildSheetRecord(order{ID: "SB-1"}))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	due, err := ob.due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, effectSheetForward, due[0].Kind)
	require.Equal(t, outboxStatusPending, due[0].Status)

	delivered, err := ob.processDue(ctx, func(context.Context, outboxEntry) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, delivered)

	_, counts, err := ob.snapshot(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Sent)
	require.Equal(t, 0, counts.Pending)
}

func TestOutboxRetryWithBackoff(t *testing.T) {
	ob := newOutbox(nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ob.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := ob.enqueue(ctx, "SB-1", effectCustomerEmail, mailMessage{To: "jane@example.com"})
	require.NoError(t, err)

	boom := errors.New("smtp unreachable")
	delivered, err := ob.processDue(ctx, func(context.Context, outboxEntry) error { return boom })
	require.NoError(t, err)
	require.Equal(t, 0, delivered)

	entries, counts, err := ob.snapshot(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
	require.Equal(t, 1, entries[0].Attempts)
	require.Equal(t, "smtp unreachable", entries[0].LastError)
	require.Equal(t, now.Add(30*time.Second), entries[0].NextAttemptAt)

	// Not due again until the backoff elapses.
	due, err := ob.due(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	now = now.Add(31 * time.Second)
	due, err = ob.due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestOutboxFailsAfterMaxAttempts(t *testing.T) {
	ob := newOutbox(nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ob.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := ob.enqueue(ctx, "SB-1", effectOwnerEmail, mailMessage{To: "owner@example.com"})
	require.NoError(t, err)

	boom := errors.New("nope")
	for i := 0; i < ob.maxAttempts; i++ {
		_, err := ob.processDue(ctx, func(context.Context, outboxEntry) error { return boom })
		require.NoError(t, err)
		now = now.Add(2 * time.Hour)
	}

	_, counts, err := ob.snapshot(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Failed)
	require.Equal(t, 0, counts.Pending)

	// Failed entries never come back as due.
	due, err := ob.due(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestOutboxBackoffDoublesAndCaps(t *testing.T) {
	ob := newOutbox(nil)

	require.Equal(t, 30*time.Second, ob.backoff(1))
	require.Equal(t, time.Minute, ob.backoff(2))
	require.Equal(t, 2*time.Minute, ob.backoff(3))
	require.Equal(t, time.Hour, ob.backoff(20))
}
