package entities

import "time"

// Partial carries the pieces of a time expression C1 could resolve without
// a full instant, e.g. a bare weekday or a bare time-of-day word.
type Partial struct {
	Day      string `json:"day,omitempty"`
	TimeOfDay string `json:"timeofday,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// ReminderIntent is the value C2 (the intent normalizer) produces. It is
// not persisted directly; either it is committed straight to the reminder
// store or parked as a PendingConfirmation draft.
type ReminderIntent struct {
	IntentType         string    `json:"intent_type"`
	Message            string    `json:"message"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	Timezone           string    `json:"timezone"`
	Channels           []Channel `json:"channels"`
	Recurrence         *string   `json:"recurrence,omitempty"`
	Priority           int       `json:"priority"`
	Confidence         float64   `json:"confidence"`
	NeedsClarification bool      `json:"needs_clarification"`
	ClarifyingQuestion string    `json:"clarifying_question,omitempty"`
	ParsedPartial      Partial   `json:"parsed_partial,omitempty"`
}
