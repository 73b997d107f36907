package entities

import "time"

// LedgerOperation classifies the kind of state change an ActionLedgerEntry
// records.
type LedgerOperation string

const (
	LedgerCreate LedgerOperation = "create"
	LedgerUpdate LedgerOperation = "update"
	LedgerDelete LedgerOperation = "delete"
	LedgerUndo   LedgerOperation = "undo"
)

// ActionLedgerEntry records one committed state change with an undo token
// (C7). The undo window is fixed at creation time via UndoExpiry.
type ActionLedgerEntry struct {
	ActionID       string          `json:"action_id" db:"action_id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	TS             time.Time       `json:"ts" db:"ts"`
	EntityType     string          `json:"entity_type" db:"entity_type"`
	EntityID       string          `json:"entity_id" db:"entity_id"`
	Operation      LedgerOperation `json:"operation" db:"operation"`
	BeforeSnapshot *string         `json:"before_snapshot,omitempty" db:"before_snapshot"`
	AfterSnapshot  string          `json:"after_snapshot" db:"after_snapshot"`
	UndoToken      string          `json:"undo_token" db:"undo_token"`
	UndoExpiry     time.Time       `json:"undo_expiry" db:"undo_expiry"`
	UndoneAt       *time.Time      `json:"undone_at,omitempty" db:"undone_at"`
}

// PendingConfirmation is a draft awaiting explicit user confirmation (C7).
type PendingConfirmation struct {
	DraftID         string    `json:"draft_id" db:"draft_id"`
	SessionID       string    `json:"session_id" db:"session_id"`
	TS              time.Time `json:"ts" db:"ts"`
	EntityType      string    `json:"entity_type" db:"entity_type"`
	ProposedPayload string    `json:"proposed_payload" db:"proposed_payload"` // JSON-encoded ReminderIntent
	ExpiresAt       time.Time `json:"expires_at" db:"expires_at"`
	CommittedAt     *time.Time `json:"committed_at,omitempty" db:"committed_at"`
}

// IdempotencyRecord describes one row of the idempotency table, which
// suppresses duplicate callbacks (C6) within a TTL; the scheduler (C5) does
// not use it.
type IdempotencyRecord struct {
	DedupeKey    string    `json:"dedupe_key" db:"dedupe_key"`
	FirstSeenAt  time.Time `json:"first_seen_at" db:"first_seen_at"`
	TTLExpiry    time.Time `json:"ttl_expiry" db:"ttl_expiry"`
	ResultJSON   string    `json:"result_json,omitempty" db:"result_json"`
}

// Preferences holds per-session defaults consumed by C2 and C6.
type Preferences struct {
	SessionID          string    `json:"session_id" db:"session_id"`
	DefaultChannels     []Channel `json:"default_channels" db:"-"`
	DefaultPriority     int       `json:"default_priority" db:"default_priority"`
	DefaultTopic        string    `json:"default_topic" db:"default_topic"`
	DefaultLaterTime    string    `json:"default_later_time" db:"default_later_time"` // HH:MM
	BriefingTime        string    `json:"briefing_time" db:"briefing_time"`           // HH:MM
	ConfirmDestructive  bool      `json:"confirm_destructive" db:"confirm_destructive"`
	LearningFlags       map[string]bool `json:"learning_flags,omitempty" db:"-"`
}
