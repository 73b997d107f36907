package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/ledger"
	"github.com/reminder-core/reminder/internal/store"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenLedger(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ledger.New(db)
}

func TestLedger_RecordAndUndo(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	before := `{"status":"scheduled"}`
	entry, err := l.Record(ctx, "sess-1", "reminder", "rem-1", entities.LedgerUpdate, &before, `{"status":"canceled"}`, now, 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, entry.UndoToken, 8)

	var reversed entities.ActionLedgerEntry
	undoEntry, err := l.Undo(ctx, entry.UndoToken, now.Add(time.Minute), 30*time.Minute, func(_ context.Context, e entities.ActionLedgerEntry) error {
		reversed = e
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, entry.ActionID, reversed.ActionID)
	assert.Equal(t, entities.LedgerUndo, undoEntry.Operation)

	// Already undone: a second undo of the same token is rejected.
	_, err = l.Undo(ctx, entry.UndoToken, now.Add(2*time.Minute), 30*time.Minute, func(context.Context, entities.ActionLedgerEntry) error {
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyUndone)
}

func TestLedger_UndoExpired(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	entry, err := l.Record(ctx, "sess-1", "reminder", "rem-1", entities.LedgerCreate, nil, `{}`, now, 30*time.Minute)
	require.NoError(t, err)

	_, err = l.Undo(ctx, entry.UndoToken, now.Add(31*time.Minute), 30*time.Minute, func(context.Context, entities.ActionLedgerEntry) error {
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrGone)
}

func TestLedger_UndoUnknownToken(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Undo(ctx, "ZZZZZZZZ", time.Now().UTC(), 30*time.Minute, func(context.Context, entities.ActionLedgerEntry) error {
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrTokenNotFound)
}

func TestLedger_UndoLast(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	_, err := l.Record(ctx, "sess-1", "reminder", "rem-1", entities.LedgerCreate, nil, `{}`, now, 30*time.Minute)
	require.NoError(t, err)
	second, err := l.Record(ctx, "sess-1", "reminder", "rem-2", entities.LedgerCreate, nil, `{}`, now.Add(time.Second), 30*time.Minute)
	require.NoError(t, err)

	var reversedID string
	_, err = l.UndoLast(ctx, "sess-1", now.Add(time.Minute), 30*time.Minute, func(_ context.Context, e entities.ActionLedgerEntry) error {
		reversedID = e.EntityID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, second.EntityID, reversedID)
}

func TestLedger_UndoLast_NoEntries(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.UndoLast(ctx, "nobody", time.Now().UTC(), 30*time.Minute, func(context.Context, entities.ActionLedgerEntry) error {
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrNoEntries)
}

func TestLedger_ForSession(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)

	_, err := l.Record(ctx, "sess-1", "reminder", "rem-1", entities.LedgerCreate, nil, `{}`, now, 30*time.Minute)
	require.NoError(t, err)
	_, err = l.Record(ctx, "sess-1", "reminder", "rem-2", entities.LedgerCreate, nil, `{}`, now.Add(time.Second), 30*time.Minute)
	require.NoError(t, err)

	entries, err := l.ForSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rem-2", entries[0].EntityID) // most recent first
}
