// Package idempotency suppresses duplicate callbacks within a TTL window.
// The callback action path (C6, through app.Service.Action) uses it; the
// scheduler (C5) does not consult it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrDuplicate is returned by Check when dedupeKey was already seen within
// the TTL window; Check's string result then holds whatever StoreResult
// recorded the first time (empty if nothing was stored).
var ErrDuplicate = errors.New("idempotency: duplicate request")

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Key hashes an arbitrary set of parts into a stable dedupe key, used when
// no caller-supplied idempotency key is available (e.g. hashing the
// callback's reminder id + action + token).
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check records dedupeKey as seen if it is new, or returns ErrDuplicate
// with the first-seen result if it has already been recorded within ttl.
func (s *Store) Check(ctx context.Context, dedupeKey string, now time.Time, ttl time.Duration) (string, error) {
	var existing struct {
		TTLExpiry  int64          `db:"ttl_expiry"`
		ResultJSON sql.NullString `db:"result_json"`
	}
	err := s.db.GetContext(ctx, &existing, `SELECT ttl_expiry, result_json FROM idempotency_records WHERE dedupe_key = ?`, dedupeKey)
	switch {
	case err == nil:
		if now.Unix() < existing.TTLExpiry {
			return existing.ResultJSON.String, ErrDuplicate
		}
		// expired; fall through and treat as new
	case errors.Is(err, sql.ErrNoRows):
		// new key
	default:
		return "", fmt.Errorf("check dedupe key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (dedupe_key, first_seen_at, ttl_expiry, result_json)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(dedupe_key) DO UPDATE SET first_seen_at = excluded.first_seen_at, ttl_expiry = excluded.ttl_expiry, result_json = NULL
	`, dedupeKey, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return "", fmt.Errorf("insert dedupe key: %w", err)
	}

	return "", nil
}

// StoreResult attaches a result payload to an already-recorded key, so a
// later duplicate within the TTL window can replay the same response.
func (s *Store) StoreResult(ctx context.Context, dedupeKey, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE idempotency_records SET result_json = ? WHERE dedupe_key = ?`, resultJSON, dedupeKey)
	if err != nil {
		return fmt.Errorf("store dedupe result: %w", err)
	}
	return nil
}

// Sweep deletes expired records and returns how many were removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE ttl_expiry < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return n, nil
}
