// Package pending implements C7's pending-confirmation store: drafts
// created when C2 needs clarification (or a destructive-action preference
// requires it), confirmed or modified within a 10-minute window, and swept
// once expired.
package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

var (
	ErrDraftNotFound = errors.New("pending: draft not found")
	ErrDraftExpired  = errors.New("pending: draft has expired")
)

// Store is C7's pending-confirmation store.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create stores a new draft for the given intent, due to expire after ttl.
func (s *Store) Create(ctx context.Context, sessionID, entityType string, intent entities.ReminderIntent, now time.Time, ttl time.Duration) (entities.PendingConfirmation, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return entities.PendingConfirmation{}, fmt.Errorf("marshal draft payload: %w", err)
	}

	draft := entities.PendingConfirmation{
		DraftID:         uuid.NewString(),
		SessionID:       sessionID,
		TS:              now,
		EntityType:      entityType,
		ProposedPayload: string(payload),
		ExpiresAt:       now.Add(ttl),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_confirmations (draft_id, session_id, ts, entity_type, proposed_payload, expires_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, draft.DraftID, draft.SessionID, draft.TS.Unix(), draft.EntityType, draft.ProposedPayload, draft.ExpiresAt.Unix())
	if err != nil {
		return entities.PendingConfirmation{}, fmt.Errorf("insert draft: %w", err)
	}

	return draft, nil
}

type draftRow struct {
	DraftID         string        `db:"draft_id"`
	SessionID       string        `db:"session_id"`
	TS              int64         `db:"ts"`
	EntityType      string        `db:"entity_type"`
	ProposedPayload string        `db:"proposed_payload"`
	ExpiresAt       int64         `db:"expires_at"`
	CommittedAt     sql.NullInt64 `db:"committed_at"`
}

func (r draftRow) toEntity() entities.PendingConfirmation {
	d := entities.PendingConfirmation{
		DraftID:         r.DraftID,
		SessionID:       r.SessionID,
		TS:              time.Unix(r.TS, 0).UTC(),
		EntityType:      r.EntityType,
		ProposedPayload: r.ProposedPayload,
		ExpiresAt:       time.Unix(r.ExpiresAt, 0).UTC(),
	}
	if r.CommittedAt.Valid {
		t := time.Unix(r.CommittedAt.Int64, 0).UTC()
		d.CommittedAt = &t
	}
	return d
}

// Get fetches a draft by id, rejecting it if already past expiry.
func (s *Store) Get(ctx context.Context, draftID string, now time.Time) (entities.PendingConfirmation, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pending_confirmations WHERE draft_id = ?`, draftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.PendingConfirmation{}, ErrDraftNotFound
		}
		return entities.PendingConfirmation{}, fmt.Errorf("get draft: %w", err)
	}

	draft := row.toEntity()
	if draft.CommittedAt == nil && now.After(draft.ExpiresAt) {
		return entities.PendingConfirmation{}, ErrDraftExpired
	}
	return draft, nil
}

// LastForSession returns the most recent uncommitted, unexpired draft for a
// session, the target of a cross-message modification with no explicit id.
func (s *Store) LastForSession(ctx context.Context, sessionID string, now time.Time) (entities.PendingConfirmation, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM pending_confirmations
		WHERE session_id = ? AND committed_at IS NULL AND expires_at >= ?
		ORDER BY ts DESC LIMIT 1
	`, sessionID, now.Unix())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.PendingConfirmation{}, ErrDraftNotFound
		}
		return entities.PendingConfirmation{}, fmt.Errorf("find last draft: %w", err)
	}
	return row.toEntity(), nil
}

// Modify patches a draft's proposed intent via the cross-message extractor
// and persists the updated payload. Direct overwrite is not offered; this
// is the only mutation path per spec.md §4.7.
func (s *Store) Modify(ctx context.Context, draftID string, text string, now time.Time) (entities.PendingConfirmation, bool, error) {
	draft, err := s.Get(ctx, draftID, now)
	if err != nil {
		return entities.PendingConfirmation{}, false, err
	}

	var intent entities.ReminderIntent
	if err := json.Unmarshal([]byte(draft.ProposedPayload), &intent); err != nil {
		return entities.PendingConfirmation{}, false, fmt.Errorf("unmarshal draft payload: %w", err)
	}

	changed := ApplyModification(&intent, text, now)
	if !changed {
		return draft, false, nil
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return entities.PendingConfirmation{}, false, fmt.Errorf("marshal modified payload: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations SET proposed_payload = ? WHERE draft_id = ?
	`, string(payload), draftID); err != nil {
		return entities.PendingConfirmation{}, false, fmt.Errorf("update draft: %w", err)
	}

	draft.ProposedPayload = string(payload)
	return draft, true, nil
}

// Commit marks a draft committed. Callers are responsible for inserting the
// resulting reminder into C3 and writing a ledger entry first.
func (s *Store) Commit(ctx context.Context, draftID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations SET committed_at = ? WHERE draft_id = ? AND committed_at IS NULL
	`, now.Unix(), draftID)
	if err != nil {
		return fmt.Errorf("commit draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit draft rows affected: %w", err)
	}
	if n == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// ExpireSweep deletes drafts past expires_at that were never committed, and
// returns how many were removed.
func (s *Store) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_confirmations WHERE committed_at IS NULL AND expires_at < ?
	`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sweep rows affected: %w", err)
	}
	return n, nil
}
