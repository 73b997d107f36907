// Package preferences stores per-session defaults consumed by C2 (default
// channel/priority for ambiguous intents) and C6 (confirm-destructive
// gating). It is a supplemented feature: spec.md's persisted-state layout
// does not name it, but §4.7's "user preference requires explicit
// confirmation on destructive actions" presupposes somewhere preferences
// live, so this gives that a concrete home.
package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func defaults(sessionID string) entities.Preferences {
	return entities.Preferences{
		SessionID:       sessionID,
		DefaultChannels: entities.DefaultChannels,
		DefaultPriority: 5,
	}
}

type prefRow struct {
	SessionID          string `db:"session_id"`
	DefaultChannels     string `db:"default_channels"`
	DefaultPriority     int    `db:"default_priority"`
	DefaultTopic        string `db:"default_topic"`
	DefaultLaterTime    string `db:"default_later_time"`
	BriefingTime        string `db:"briefing_time"`
	ConfirmDestructive  bool   `db:"confirm_destructive"`
	LearningFlags       string `db:"learning_flags"`
}

func (r prefRow) toEntity() (entities.Preferences, error) {
	p := entities.Preferences{
		SessionID:          r.SessionID,
		DefaultPriority:    r.DefaultPriority,
		DefaultTopic:       r.DefaultTopic,
		DefaultLaterTime:   r.DefaultLaterTime,
		BriefingTime:       r.BriefingTime,
		ConfirmDestructive: r.ConfirmDestructive,
	}
	if err := json.Unmarshal([]byte(r.DefaultChannels), &p.DefaultChannels); err != nil {
		return entities.Preferences{}, fmt.Errorf("unmarshal default_channels: %w", err)
	}
	if r.LearningFlags != "" {
		if err := json.Unmarshal([]byte(r.LearningFlags), &p.LearningFlags); err != nil {
			return entities.Preferences{}, fmt.Errorf("unmarshal learning_flags: %w", err)
		}
	}
	return p, nil
}

// Get returns a session's preferences, or the package defaults if none
// have been saved yet.
func (s *Store) Get(ctx context.Context, sessionID string) (entities.Preferences, error) {
	var row prefRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM preferences WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return defaults(sessionID), nil
	}
	if err != nil {
		return entities.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return row.toEntity()
}

// Save upserts a session's preferences.
func (s *Store) Save(ctx context.Context, p entities.Preferences) error {
	channels, err := json.Marshal(entities.NormalizeChannels(p.DefaultChannels))
	if err != nil {
		return fmt.Errorf("marshal default_channels: %w", err)
	}
	flags := p.LearningFlags
	if flags == nil {
		flags = map[string]bool{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("marshal learning_flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (session_id, default_channels, default_priority, default_topic, default_later_time, briefing_time, confirm_destructive, learning_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			default_channels = excluded.default_channels,
			default_priority = excluded.default_priority,
			default_topic = excluded.default_topic,
			default_later_time = excluded.default_later_time,
			briefing_time = excluded.briefing_time,
			confirm_destructive = excluded.confirm_destructive,
			learning_flags = excluded.learning_flags
	`, p.SessionID, string(channels), p.DefaultPriority, p.DefaultTopic, p.DefaultLaterTime, p.BriefingTime, p.ConfirmDestructive, string(flagsJSON))
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
