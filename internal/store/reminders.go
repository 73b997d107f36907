package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

var (
	ErrReminderNotFound = errors.New("store: reminder not found")
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// ReminderStore is C3, the durable reminder table with status lifecycle,
// audit log, and atomic claim of due items.
type ReminderStore struct {
	db *sqlx.DB
}

// NewReminderStore wraps an already-opened, already-migrated reminders.db handle.
func NewReminderStore(db *sqlx.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

type reminderRow struct {
	ID           int64          `db:"id"`
	Kind         string         `db:"kind"`
	Message      string         `db:"message"`
	DueAt        int64          `db:"due_at"`
	CreatedAt    int64          `db:"created_at"`
	SentAt       sql.NullInt64  `db:"sent_at"`
	CanceledAt   sql.NullInt64  `db:"canceled_at"`
	Timezone     string         `db:"timezone"`
	Channels     string         `db:"channels"`
	Priority     int            `db:"priority"`
	Status       string         `db:"status"`
	AttemptCount int            `db:"attempt_count"`
	LastError    sql.NullString `db:"last_error"`
	ContextRef   sql.NullString `db:"context_ref"`
	Recurrence   sql.NullString `db:"recurrence"`
}

func (r reminderRow) toEntity() (entities.Reminder, error) {
	var channels []entities.Channel
	if err := json.Unmarshal([]byte(r.Channels), &channels); err != nil {
		return entities.Reminder{}, fmt.Errorf("unmarshal channels: %w", err)
	}

	rem := entities.Reminder{
		ID:           r.ID,
		Kind:         entities.Kind(r.Kind),
		Message:      r.Message,
		DueAt:        time.Unix(r.DueAt, 0).UTC(),
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
		Timezone:     r.Timezone,
		Channels:     channels,
		Priority:     r.Priority,
		Status:       entities.Status(r.Status),
		AttemptCount: r.AttemptCount,
	}
	if r.SentAt.Valid {
		t := time.Unix(r.SentAt.Int64, 0).UTC()
		rem.SentAt = &t
	}
	if r.CanceledAt.Valid {
		t := time.Unix(r.CanceledAt.Int64, 0).UTC()
		rem.CanceledAt = &t
	}
	if r.LastError.Valid {
		rem.LastError = &r.LastError.String
	}
	if r.ContextRef.Valid {
		rem.ContextRef = &r.ContextRef.String
	}
	if r.Recurrence.Valid {
		rem.Recurrence = &r.Recurrence.String
	}
	return rem, nil
}

// Insert creates a scheduled reminder and writes the initial "created"
// audit entry in the same transaction.
func (s *ReminderStore) Insert(ctx context.Context, rem *entities.Reminder) error {
	channels := entities.NormalizeChannels(rem.Channels)
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := rem.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reminders (kind, message, due_at, created_at, timezone, channels, priority, status, attempt_count, context_ref, recurrence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, string(rem.Kind), rem.Message, rem.DueAt.Unix(), now.Unix(), rem.Timezone, string(channelsJSON), rem.Priority, string(rem.Status), rem.ContextRef, rem.Recurrence)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if err := appendAuditTx(ctx, tx, id, entities.AuditEntry{
		TS:     now,
		Action: entities.AuditCreated,
		Actor:  "system",
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	rem.ID = id
	rem.Channels = channels
	rem.CreatedAt = now
	return nil
}

// Get fetches one reminder with its full audit log.
func (s *ReminderStore) Get(ctx context.Context, id int64) (*entities.Reminder, error) {
	var row reminderRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM reminders WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}

	rem, err := row.toEntity()
	if err != nil {
		return nil, err
	}

	audit, err := s.getAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	rem.AuditLog = audit

	return &rem, nil
}

// List returns reminders filtered by status ("all" means no filter),
// ordered by due_at ascending.
func (s *ReminderStore) List(ctx context.Context, status string) ([]entities.Reminder, error) {
	var rows []reminderRow
	var err error
	if status == "" || status == "all" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM reminders ORDER BY due_at ASC`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM reminders WHERE status = ? ORDER BY due_at ASC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	out := make([]entities.Reminder, 0, len(rows))
	for _, row := range rows {
		rem, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, nil
}

// ClaimDue implements spec.md §4.3's claim_due: atomically transitions up
// to maxN due, scheduled, non-canceled reminders to fired and returns them.
// Ordered by due_at ascending then priority descending (spec.md §4.5's
// ordering guarantee), tie-broken by ascending id.
func (s *ReminderStore) ClaimDue(ctx context.Context, now time.Time, maxN int) ([]entities.Reminder, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []reminderRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT * FROM reminders
		WHERE status = 'scheduled' AND canceled_at IS NULL AND due_at <= ?
		ORDER BY due_at ASC, priority DESC, id ASC
		LIMIT ?
	`, now.Unix(), maxN)
	if err != nil {
		return nil, fmt.Errorf("select due: %w", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	claimed := make([]entities.Reminder, 0, len(rows))
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = 'fired', attempt_count = attempt_count + 1, sent_at = ?
			WHERE id = ?
		`, now.Unix(), row.ID); err != nil {
			return nil, fmt.Errorf("claim reminder %d: %w", row.ID, err)
		}

		row.Status = "fired"
		row.AttemptCount++
		row.SentAt = sql.NullInt64{Int64: now.Unix(), Valid: true}

		if err := appendAuditTx(ctx, tx, row.ID, entities.AuditEntry{
			TS:     now,
			Action: entities.AuditDeliveryAttempt,
			Actor:  "scheduler",
		}); err != nil {
			return nil, err
		}

		rem, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rem)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return claimed, nil
}

// AppendAudit appends one audit entry to a reminder, truncating from the
// oldest side once MaxAuditEntries is exceeded.
func (s *ReminderStore) AppendAudit(ctx context.Context, reminderID int64, entry entities.AuditEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendAuditTx(ctx, tx, reminderID, entry); err != nil {
		return err
	}

	return tx.Commit()
}

func appendAuditTx(ctx context.Context, tx *sqlx.Tx, reminderID int64, entry entities.AuditEntry) error {
	var nextSeq int
	if err := tx.GetContext(ctx, &nextSeq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM reminder_audit WHERE reminder_id = ?`, reminderID); err != nil {
		return fmt.Errorf("next audit seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reminder_audit (reminder_id, ts, action, actor, details, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, reminderID, entry.TS.Unix(), string(entry.Action), entry.Actor, entry.Details, nextSeq); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	if nextSeq > entities.MaxAuditEntries {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM reminder_audit
			WHERE reminder_id = ? AND seq <= ?
		`, reminderID, nextSeq-entities.MaxAuditEntries); err != nil {
			return fmt.Errorf("trim audit: %w", err)
		}
	}

	return nil
}

func (s *ReminderStore) getAudit(ctx context.Context, reminderID int64) ([]entities.AuditEntry, error) {
	type auditRow struct {
		TS      int64  `db:"ts"`
		Action  string `db:"action"`
		Actor   string `db:"actor"`
		Details string `db:"details"`
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT ts, action, actor, details FROM reminder_audit
		WHERE reminder_id = ? ORDER BY seq ASC
	`, reminderID); err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}

	out := make([]entities.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, entities.AuditEntry{
			TS:      time.Unix(r.TS, 0).UTC(),
			Action:  entities.AuditAction(r.Action),
			Actor:   r.Actor,
			Details: r.Details,
		})
	}
	return out, nil
}

// Acknowledge implements the DONE action: fired|acknowledged -> acknowledged.
func (s *ReminderStore) Acknowledge(ctx context.Context, id int64, now time.Time) error {
	return s.transition(ctx, id, []entities.Status{entities.StatusFired, entities.StatusAcknowledged}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE reminders SET status = 'acknowledged' WHERE id = ?`, id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditActionCallback, Actor: "user", Details: "DONE"})
}

// Snooze implements SNOOZE_<n>: fired|scheduled|snoozed -> scheduled, with
// due_at pushed forward by n and attempt bookkeeping reset.
func (s *ReminderStore) Snooze(ctx context.Context, id int64, now time.Time, delay time.Duration) error {
	newDue := now.Add(delay)
	return s.transition(ctx, id, []entities.Status{entities.StatusFired, entities.StatusScheduled, entities.StatusSnoozed}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = 'scheduled', due_at = ?, sent_at = NULL, attempt_count = 0
			WHERE id = ?
		`, newDue.Unix(), id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditSnooze, Actor: "user", Details: delay.String()})
}

// Delay is the same mechanics as Snooze with a different audit action, used
// by DELAY_<n>H actions.
func (s *ReminderStore) Delay(ctx context.Context, id int64, now time.Time, delay time.Duration) error {
	newDue := now.Add(delay)
	return s.transition(ctx, id, []entities.Status{entities.StatusFired, entities.StatusScheduled, entities.StatusSnoozed}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = 'scheduled', due_at = ?, sent_at = NULL, attempt_count = 0
			WHERE id = ?
		`, newDue.Unix(), id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditDelay, Actor: "user", Details: delay.String()})
}

// Cancel transitions any non-terminal reminder to canceled.
func (s *ReminderStore) Cancel(ctx context.Context, id int64, now time.Time) error {
	return s.transition(ctx, id, []entities.Status{
		entities.StatusDraft, entities.StatusScheduled, entities.StatusFired, entities.StatusSnoozed,
	}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE reminders SET status = 'canceled', canceled_at = ? WHERE id = ?`, now.Unix(), id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditCancel, Actor: "user"})
}

// RescheduleBackoff implements spec.md §4.5(e): fired -> scheduled with
// due_at pushed out by the backoff window, attempt bookkeeping preserved.
func (s *ReminderStore) RescheduleBackoff(ctx context.Context, id int64, now time.Time, backoff time.Duration, lastErr string) error {
	return s.transition(ctx, id, []entities.Status{entities.StatusFired}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = 'scheduled', due_at = ?, sent_at = NULL, last_error = ?
			WHERE id = ?
		`, now.Add(backoff).Unix(), lastErr, id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditRetry, Actor: "scheduler", Details: lastErr})
}

// MarkFailed implements spec.md §4.5(f): fired -> failed, terminal.
func (s *ReminderStore) MarkFailed(ctx context.Context, id int64, now time.Time, lastErr string) error {
	return s.transition(ctx, id, []entities.Status{entities.StatusFired}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE reminders SET status = 'failed', last_error = ? WHERE id = ?`, lastErr, id)
		return err
	}, entities.AuditEntry{TS: now, Action: entities.AuditFail, Actor: "scheduler", Details: lastErr})
}

// ClearLastError is used on a fully successful dispatch (spec.md §4.5d).
func (s *ReminderStore) ClearLastError(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET last_error = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear last error: %w", err)
	}
	return nil
}

// transition guards a mutation behind an allowed-current-status check,
// running the mutation and the audit append in the same transaction. This
// is the general shape behind Acknowledge/Snooze/Delay/Cancel/etc.
func (s *ReminderStore) transition(ctx context.Context, id int64, allowed []entities.Status, mutate func(*sqlx.Tx) error, audit entities.AuditEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.GetContext(ctx, &current, `SELECT status FROM reminders WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("get status: %w", err)
	}

	ok := false
	for _, a := range allowed {
		if entities.Status(current) == a {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: reminder %d is %s, need one of %v", ErrInvalidTransition, id, current, allowed)
	}

	if err := mutate(tx); err != nil {
		return fmt.Errorf("mutate reminder %d: %w", id, err)
	}

	if err := appendAuditTx(ctx, tx, id, audit); err != nil {
		return err
	}

	return tx.Commit()
}

// Restore writes a reminder row back to an exact prior snapshot (status,
// due_at, sent_at, canceled_at, attempt_count, last_error), used by undo to
// restore the byte-for-byte prior state rather than replaying it through a
// forward transition. Unlike transition, this carries no allowed-status
// guard: undo must be able to move backward from any current state,
// including back to fired, which no forward action ever produces.
func (s *ReminderStore) Restore(ctx context.Context, before entities.Reminder, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sentAt, canceledAt sql.NullInt64
	if before.SentAt != nil {
		sentAt = sql.NullInt64{Int64: before.SentAt.Unix(), Valid: true}
	}
	if before.CanceledAt != nil {
		canceledAt = sql.NullInt64{Int64: before.CanceledAt.Unix(), Valid: true}
	}
	var lastErr sql.NullString
	if before.LastError != nil {
		lastErr = sql.NullString{String: *before.LastError, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE reminders
		SET status = ?, due_at = ?, sent_at = ?, canceled_at = ?, attempt_count = ?, last_error = ?
		WHERE id = ?
	`, string(before.Status), before.DueAt.Unix(), sentAt, canceledAt, before.AttemptCount, lastErr, before.ID)
	if err != nil {
		return fmt.Errorf("restore reminder %d: %w", before.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrReminderNotFound
	}

	if err := appendAuditTx(ctx, tx, before.ID, entities.AuditEntry{TS: now, Action: entities.AuditUndo, Actor: "user"}); err != nil {
		return err
	}

	return tx.Commit()
}

// RestartRecover implements spec.md §4.5 "Restart safety": any row in
// fired state whose sent_at falls within crashWindow of now, and whose
// attempt_count is below maxAttempts, is treated as an in-doubt dispatch
// and returned to scheduled, due after backoff(attempt_count) — the same
// delay a failed dispatch at that attempt count gets.
func (s *ReminderStore) RestartRecover(ctx context.Context, now time.Time, crashWindow time.Duration, maxAttempts int, backoff func(attempt int) time.Duration) (int, error) {
	var rows []reminderRow
	cutoff := now.Add(-crashWindow).Unix()
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM reminders
		WHERE status = 'fired' AND sent_at IS NOT NULL AND sent_at >= ? AND attempt_count < ?
	`, cutoff, maxAttempts); err != nil {
		return 0, fmt.Errorf("select in-doubt: %w", err)
	}

	recovered := 0
	for _, row := range rows {
		if err := s.RescheduleBackoff(ctx, row.ID, now, backoff(row.AttemptCount), "in-doubt after restart"); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// TouchHeartbeat upserts the single heartbeat row with the current poll time.
func (s *ReminderStore) TouchHeartbeat(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat (id, last_poll_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_poll_at = excluded.last_poll_at
	`, now.Unix())
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

// Heartbeat returns the last recorded poll time, or the zero time if the
// scheduler has never ticked.
func (s *ReminderStore) Heartbeat(ctx context.Context) (time.Time, error) {
	var lastPollAt int64
	err := s.db.GetContext(ctx, &lastPollAt, `SELECT last_poll_at FROM heartbeat WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get heartbeat: %w", err)
	}
	return time.Unix(lastPollAt, 0).UTC(), nil
}

// NextScheduled returns the earliest due_at among scheduled reminders, used
// by the health endpoint's reminders.next_due_at field.
func (s *ReminderStore) NextScheduled(ctx context.Context) (*time.Time, error) {
	var dueAt sql.NullInt64
	err := s.db.GetContext(ctx, &dueAt, `
		SELECT MIN(due_at) FROM reminders WHERE status = 'scheduled' AND canceled_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("next scheduled: %w", err)
	}
	if !dueAt.Valid {
		return nil, nil
	}
	t := time.Unix(dueAt.Int64, 0).UTC()
	return &t, nil
}

// CountByStatus returns the number of reminders in a given status.
func (s *ReminderStore) CountByStatus(ctx context.Context, status entities.Status) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM reminders WHERE status = ?`, string(status)); err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

// LastDeliveryStatus reports the most recent successful and failed delivery
// attempts across all reminders, for the health endpoint's delivery section.
func (s *ReminderStore) LastDeliveryStatus(ctx context.Context) (lastSuccess *time.Time, lastError *string, lastErrorAt *time.Time, err error) {
	var successTS sql.NullInt64
	if err = s.db.GetContext(ctx, &successTS, `
		SELECT MAX(ts) FROM reminder_audit WHERE action = 'delivery_attempt' AND details LIKE '%ok=true%'
	`); err != nil {
		return nil, nil, nil, fmt.Errorf("last delivery success: %w", err)
	}
	if successTS.Valid {
		t := time.Unix(successTS.Int64, 0).UTC()
		lastSuccess = &t
	}

	var row struct {
		TS      sql.NullInt64  `db:"ts"`
		Details sql.NullString `db:"details"`
	}
	err = s.db.GetContext(ctx, &row, `
		SELECT ts, details FROM reminder_audit
		WHERE action = 'delivery_attempt' AND details LIKE '%ok=false%'
		ORDER BY ts DESC, seq DESC LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lastSuccess, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("last delivery error: %w", err)
	}
	if row.TS.Valid {
		t := time.Unix(row.TS.Int64, 0).UTC()
		lastErrorAt = &t
	}
	if row.Details.Valid {
		lastError = &row.Details.String
	}
	return lastSuccess, lastError, lastErrorAt, nil
}

// ParseChannelCSV splits a comma-separated list of channel names, trimming
// spaces and skipping empty entries.
func ParseChannelCSV(s string) []entities.Channel {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]entities.Channel, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, entities.Channel(p))
	}
	return out
}
