package pending_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/pending"
	"github.com/reminder-core/reminder/internal/store"
)

func newTestStore(t *testing.T) *pending.Store {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenPending(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return pending.New(db)
}

func TestPending_CreateGetCommit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "briefing_add", Message: "x", Priority: 5, NeedsClarification: true}
	draft, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, draft.DraftID)

	got, err := s.Get(ctx, draft.DraftID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, draft.DraftID, got.DraftID)

	require.NoError(t, s.Commit(ctx, draft.DraftID, now.Add(2*time.Minute)))

	err = s.Commit(ctx, draft.DraftID, now.Add(3*time.Minute))
	assert.ErrorIs(t, err, pending.ErrDraftNotFound)
}

func TestPending_GetExpired(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "simple_remind", Message: "x"}
	draft, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)

	_, err = s.Get(ctx, draft.DraftID, now.Add(11*time.Minute))
	assert.ErrorIs(t, err, pending.ErrDraftExpired)
}

func TestPending_ExpireSweep(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "simple_remind", Message: "x"}
	_, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)

	n, err := s.ExpireSweep(ctx, now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPending_ModifyPriority(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "briefing_add", Message: "prep slides", Priority: 5, Timezone: "UTC", NeedsClarification: true}
	draft, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)

	updated, changed, err := s.Modify(ctx, draft.DraftID, "make that high priority", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, updated.ProposedPayload, `"priority":8`)
}

func TestPending_ModifyTime(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "simple_remind", Message: "call mom", Timezone: "UTC", NeedsClarification: true}
	draft, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)

	_, changed, err := s.Modify(ctx, draft.DraftID, "change the time to 9pm", now)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPending_ModifyNoMatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "simple_remind", Message: "call mom", Timezone: "UTC"}
	draft, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)

	_, changed, err := s.Modify(ctx, draft.DraftID, "how's the weather", now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPending_LastForSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	intent := entities.ReminderIntent{IntentType: "simple_remind", Message: "first"}
	_, err := s.Create(ctx, "sess-1", "reminder", intent, now, 10*time.Minute)
	require.NoError(t, err)
	second, err := s.Create(ctx, "sess-1", "reminder", entities.ReminderIntent{IntentType: "simple_remind", Message: "second"}, now.Add(time.Second), 10*time.Minute)
	require.NoError(t, err)

	got, err := s.LastForSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, second.DraftID, got.DraftID)
}
