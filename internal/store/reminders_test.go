package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/store"
)

func newTestStore(t *testing.T) *store.ReminderStore {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenReminders(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewReminderStore(db)
}

func TestReminderStore_InsertAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 1, 21, 22, 30, 0, 0, time.UTC)
	rem := &entities.Reminder{
		Kind:     entities.KindRemind,
		Message:  "submit expense report",
		DueAt:    due,
		Timezone: "America/Chicago",
		Channels: nil,
		Priority: 5,
		Status:   entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, rem))
	assert.NotZero(t, rem.ID)
	assert.Equal(t, []entities.Channel{entities.ChannelNtfy}, rem.Channels)

	got, err := s.Get(ctx, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, "submit expense report", got.Message)
	assert.True(t, due.Equal(got.DueAt))
	require.Len(t, got.AuditLog, 1)
	assert.Equal(t, entities.AuditCreated, got.AuditLog[0].Action)
}

func TestReminderStore_ClaimDue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	due := &entities.Reminder{
		Kind: entities.KindRemind, Message: "due now", DueAt: now.Add(-time.Second),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	notDue := &entities.Reminder{
		Kind: entities.KindRemind, Message: "not due", DueAt: now.Add(time.Hour),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, due))
	require.NoError(t, s.Insert(ctx, notDue))

	claimed, err := s.ClaimDue(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, entities.StatusFired, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].AttemptCount)

	// P3: claimed reminder is no longer scheduled, so a second claim_due skips it.
	again, err := s.ClaimDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReminderStore_ClaimDue_SkipsCanceled(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	rem := &entities.Reminder{
		Kind: entities.KindRemind, Message: "x", DueAt: now.Add(-time.Second),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, rem))
	require.NoError(t, s.Cancel(ctx, rem.ID, now))

	claimed, err := s.ClaimDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReminderStore_SnoozeTwiceAccumulates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	rem := &entities.Reminder{
		Kind: entities.KindRemind, Message: "x", DueAt: now.Add(-time.Second),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, rem))

	claimed, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.Snooze(ctx, rem.ID, now, 30*time.Minute))
	require.NoError(t, s.Snooze(ctx, rem.ID, now.Add(30*time.Minute), 30*time.Minute))

	got, err := s.Get(ctx, rem.ID)
	require.NoError(t, err)
	want := now.Add(60 * time.Minute)
	assert.WithinDuration(t, want, got.DueAt, 2*time.Second)
}

func TestReminderStore_InvalidTransitionRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	rem := &entities.Reminder{
		Kind: entities.KindRemind, Message: "x", DueAt: now.Add(time.Hour),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, rem))
	require.NoError(t, s.Cancel(ctx, rem.ID, now))

	err := s.Acknowledge(ctx, rem.ID, now)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestReminderStore_AuditLogCapsAtMax(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	rem := &entities.Reminder{
		Kind: entities.KindRemind, Message: "x", DueAt: now.Add(time.Hour),
		Timezone: "UTC", Priority: 5, Status: entities.StatusScheduled,
	}
	require.NoError(t, s.Insert(ctx, rem))

	for i := 0; i < 105; i++ {
		require.NoError(t, s.AppendAudit(ctx, rem.ID, entities.AuditEntry{
			TS: now, Action: entities.AuditRetry, Actor: "scheduler",
		}))
	}

	got, err := s.Get(ctx, rem.ID)
	require.NoError(t, err)
	assert.Len(t, got.AuditLog, entities.MaxAuditEntries)
}

func TestReminderStore_Heartbeat(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.TouchHeartbeat(ctx, now))
	got, err := s.Heartbeat(ctx)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))
}
