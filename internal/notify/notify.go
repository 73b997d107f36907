// Package notify implements C4, the notification router: it fans a single
// reminder out to its configured channels and collects one DeliveryResult
// per channel. Unknown channels are logged and skipped; one provider's
// failure never blocks another's attempt.
package notify

import (
	"context"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

// Action is one of the three callback-triggering buttons a payload may
// carry when a public callback base URL is configured.
type Action struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	URL    string `json:"url"`
}

// Payload is what the router asks each provider to deliver.
type Payload struct {
	Title   string
	Body    string
	Actions []Action
	Context map[string]string
}

// DeliveryResult is the outcome of one provider's Send call (spec.md §4.4).
type DeliveryResult struct {
	OK        bool              `json:"ok"`
	Provider  string            `json:"provider"`
	MessageID string            `json:"message_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	DryRun    bool              `json:"dry_run,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Provider is one notification channel's delivery capability.
type Provider interface {
	Name() entities.Channel
	Send(ctx context.Context, reminder *entities.Reminder, payload Payload) DeliveryResult
}

// MapPriority maps a reminder's 1-10 priority to ntfy's 1-5 urgency scale
// per spec.md §4.4.
func MapPriority(p int) int {
	switch {
	case p <= 3:
		return 2
	case p <= 6:
		return 3
	case p <= 8:
		return 4
	default:
		return 5
	}
}
