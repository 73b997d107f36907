// Package ledger implements C7's action ledger: every committed reminder
// state change is recorded with an undo token and a bounded undo window.
package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

var (
	ErrTokenNotFound = errors.New("ledger: undo token not found")
	ErrAlreadyUndone = errors.New("ledger: action already undone")
	ErrGone          = errors.New("ledger: undo window has expired")
	ErrNoEntries     = errors.New("ledger: no undoable entries for session")
)

// undoAlphabet excludes visually ambiguous characters (0/O, I/L) per
// spec.md §4.7's "8-char token from a 32-letter alphabet".
const undoAlphabet = "123456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Reverse is supplied by the caller to actually undo a committed change
// against C3 (or whatever entity_type the entry names); the ledger itself
// only knows how to record and look up entries, not how to mutate domain
// state, the same separation of concerns the teacher keeps between
// ReminderService and ReminderRepository.
type Reverse func(ctx context.Context, entry entities.ActionLedgerEntry) error

// Ledger is C7's action ledger, backed by its own SQLite file.
type Ledger struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

// Record writes one ledger entry for a committed state change and returns
// it (receipt callers surface the undo token and expiry to the user).
func (l *Ledger) Record(ctx context.Context, sessionID, entityType, entityID string, op entities.LedgerOperation, before *string, after string, now time.Time, undoWindow time.Duration) (entities.ActionLedgerEntry, error) {
	token, err := generateUndoToken()
	if err != nil {
		return entities.ActionLedgerEntry{}, fmt.Errorf("generate undo token: %w", err)
	}

	entry := entities.ActionLedgerEntry{
		ActionID:       uuid.NewString(),
		SessionID:      sessionID,
		TS:             now,
		EntityType:     entityType,
		EntityID:       entityID,
		Operation:      op,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		UndoToken:      token,
		UndoExpiry:     now.Add(undoWindow),
	}

	if err := l.insert(ctx, entry); err != nil {
		return entities.ActionLedgerEntry{}, err
	}

	return entry, nil
}

func (l *Ledger) insert(ctx context.Context, e entities.ActionLedgerEntry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (action_id, session_id, ts, entity_type, entity_id, operation, before_snapshot, after_snapshot, undo_token, undo_expiry, undone_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, e.ActionID, e.SessionID, e.TS.Unix(), e.EntityType, e.EntityID, string(e.Operation), e.BeforeSnapshot, e.AfterSnapshot, e.UndoToken, e.UndoExpiry.Unix())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

type entryRow struct {
	ActionID       string         `db:"action_id"`
	SessionID      string         `db:"session_id"`
	TS             int64          `db:"ts"`
	EntityType     string         `db:"entity_type"`
	EntityID       string         `db:"entity_id"`
	Operation      string         `db:"operation"`
	BeforeSnapshot sql.NullString `db:"before_snapshot"`
	AfterSnapshot  string         `db:"after_snapshot"`
	UndoToken      string         `db:"undo_token"`
	UndoExpiry     int64          `db:"undo_expiry"`
	UndoneAt       sql.NullInt64  `db:"undone_at"`
}

func (r entryRow) toEntity() entities.ActionLedgerEntry {
	e := entities.ActionLedgerEntry{
		ActionID:      r.ActionID,
		SessionID:     r.SessionID,
		TS:            time.Unix(r.TS, 0).UTC(),
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Operation:     entities.LedgerOperation(r.Operation),
		AfterSnapshot: r.AfterSnapshot,
		UndoToken:     r.UndoToken,
		UndoExpiry:    time.Unix(r.UndoExpiry, 0).UTC(),
	}
	if r.BeforeSnapshot.Valid {
		e.BeforeSnapshot = &r.BeforeSnapshot.String
	}
	if r.UndoneAt.Valid {
		t := time.Unix(r.UndoneAt.Int64, 0).UTC()
		e.UndoneAt = &t
	}
	return e
}

// Undo reverses the change identified by token, calling reverse to perform
// the actual domain-level mutation, then marks the entry undone and writes
// a fresh ledger entry with operation=undo so the undo itself is undoable
// within the window.
func (l *Ledger) Undo(ctx context.Context, token string, now time.Time, undoWindow time.Duration, reverse Reverse) (entities.ActionLedgerEntry, error) {
	var row entryRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM ledger_entries WHERE undo_token = ?`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.ActionLedgerEntry{}, ErrTokenNotFound
		}
		return entities.ActionLedgerEntry{}, fmt.Errorf("lookup undo token: %w", err)
	}

	entry := row.toEntity()
	if entry.UndoneAt != nil {
		return entities.ActionLedgerEntry{}, ErrAlreadyUndone
	}
	if now.After(entry.UndoExpiry) {
		return entities.ActionLedgerEntry{}, ErrGone
	}

	if err := reverse(ctx, entry); err != nil {
		return entities.ActionLedgerEntry{}, fmt.Errorf("reverse entry: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, `UPDATE ledger_entries SET undone_at = ? WHERE action_id = ?`, now.Unix(), entry.ActionID); err != nil {
		return entities.ActionLedgerEntry{}, fmt.Errorf("mark undone: %w", err)
	}

	undoEntry, err := l.Record(ctx, entry.SessionID, entry.EntityType, entry.EntityID, entities.LedgerUndo, &entry.AfterSnapshot, valueOr(entry.BeforeSnapshot, ""), now, undoWindow)
	if err != nil {
		return entities.ActionLedgerEntry{}, err
	}

	return undoEntry, nil
}

// UndoLast picks the most recent non-undone, non-expired entry for a
// session and undoes it.
func (l *Ledger) UndoLast(ctx context.Context, sessionID string, now time.Time, undoWindow time.Duration, reverse Reverse) (entities.ActionLedgerEntry, error) {
	var row entryRow
	err := l.db.GetContext(ctx, &row, `
		SELECT * FROM ledger_entries
		WHERE session_id = ? AND undone_at IS NULL AND undo_expiry >= ?
		ORDER BY ts DESC LIMIT 1
	`, sessionID, now.Unix())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.ActionLedgerEntry{}, ErrNoEntries
		}
		return entities.ActionLedgerEntry{}, fmt.Errorf("find last entry: %w", err)
	}

	return l.Undo(ctx, row.UndoToken, now, undoWindow, reverse)
}

// ForSession lists ledger entries for a session, most recent first.
func (l *Ledger) ForSession(ctx context.Context, sessionID string) ([]entities.ActionLedgerEntry, error) {
	var rows []entryRow
	if err := l.db.SelectContext(ctx, &rows, `
		SELECT * FROM ledger_entries WHERE session_id = ? ORDER BY ts DESC
	`, sessionID); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}

	out := make([]entities.ActionLedgerEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}

func generateUndoToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 8)
	for i, b := range buf {
		out[i] = undoAlphabet[int(b)%len(undoAlphabet)]
	}
	return string(out), nil
}

func valueOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
