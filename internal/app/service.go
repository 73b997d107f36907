// Package app wires C2 (intent), C3 (store), C4 (notify), C5's runaway
// guard, and C7 (ledger/pending) into the single service layer that both
// the HTTP API (C6) and the CLI talk to in-process, the same role the
// teacher's ReminderService plays between cmd/bot/main.go and the
// Telegram delivery layer.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/apperr"
	"github.com/reminder-core/reminder/internal/config"
	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/idempotency"
	"github.com/reminder-core/reminder/internal/intent"
	"github.com/reminder-core/reminder/internal/ledger"
	"github.com/reminder-core/reminder/internal/notify"
	"github.com/reminder-core/reminder/internal/pending"
	"github.com/reminder-core/reminder/internal/preferences"
	"github.com/reminder-core/reminder/internal/scheduler"
	"github.com/reminder-core/reminder/internal/store"
)

// Service is the single entry point for every reminder-create and
// reminder-mutate flow, regardless of whether it arrived over HTTP, the
// CLI, or (in a fuller build) a chat surface.
type Service struct {
	Reminders   *store.ReminderStore
	Ledger      *ledger.Ledger
	Pending     *pending.Store
	Idempotency *idempotency.Store
	Preferences *preferences.Store
	Normalizer  *intent.Normalizer
	Router      *notify.Router
	Logger      *zap.Logger
	Cfg         *config.Config
	Loc         *time.Location
}

func New(reminders *store.ReminderStore, led *ledger.Ledger, pend *pending.Store, idem *idempotency.Store, prefs *preferences.Store, norm *intent.Normalizer, router *notify.Router, logger *zap.Logger, cfg *config.Config, loc *time.Location) *Service {
	return &Service{
		Reminders:   reminders,
		Ledger:      led,
		Pending:     pend,
		Idempotency: idem,
		Preferences: prefs,
		Normalizer:  norm,
		Router:      router,
		Logger:      logger,
		Cfg:         cfg,
		Loc:         loc,
	}
}

// Receipt is returned from every create/confirm path; it is the "truth
// gate" payload spec.md §9 describes — callers must read Status before
// claiming a reminder exists.
type Receipt struct {
	ReminderID         *int64  `json:"reminder_id,omitempty"`
	DraftID            *string `json:"draft_id,omitempty"`
	Status             string  `json:"status"`
	UndoToken          string  `json:"undo_token,omitempty"`
	NeedsClarification bool    `json:"needs_clarification,omitempty"`
	ClarifyingQuestion string  `json:"clarifying_question,omitempty"`
}

// CreateFromText runs C2 over text and either parks a draft in C7 or
// commits straight to C3, per spec.md §4.2/§4.7's data flow.
func (s *Service) CreateFromText(ctx context.Context, sessionID, text string, now time.Time) (Receipt, error) {
	parsed := s.Normalizer.Normalize(text, now, s.Loc)
	if parsed == nil {
		return Receipt{}, apperr.New(apperr.KindParse, "could not extract a reminder from the given text")
	}

	if err := sanitizeBody(parsed); err != nil {
		return Receipt{}, err
	}

	if parsed.Timezone == "" {
		parsed.Timezone = s.Loc.String()
	}

	s.applyPreferenceDefaults(ctx, sessionID, parsed)

	if parsed.NeedsClarification {
		draft, err := s.Pending.Create(ctx, sessionID, "reminder", *parsed, now, s.Cfg.Ledger.DraftTTL)
		if err != nil {
			return Receipt{}, apperr.Wrap(apperr.KindStore, "create draft", err)
		}
		return Receipt{
			DraftID:            &draft.DraftID,
			Status:             "draft",
			NeedsClarification: true,
			ClarifyingQuestion: parsed.ClarifyingQuestion,
		}, nil
	}

	return s.commitIntent(ctx, sessionID, *parsed, now)
}

// applyPreferenceDefaults overrides C2's hardcoded priority-5/ntfy-only
// fallback with the session's saved preferences, when the intent is still
// carrying that fallback rather than a pattern-specific explicit choice
// (e.g. the morning-briefing patterns' own ChannelMorningBriefing). A
// preferences lookup failure is non-fatal here: the hardcoded fallback
// still produces a valid intent.
func (s *Service) applyPreferenceDefaults(ctx context.Context, sessionID string, intent *entities.ReminderIntent) {
	prefs, err := s.Preferences.Get(ctx, sessionID)
	if err != nil {
		s.Logger.Warn("read preferences for defaults failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	isFallbackChannels := len(intent.Channels) == len(entities.DefaultChannels)
	for i := range intent.Channels {
		if isFallbackChannels && intent.Channels[i] != entities.DefaultChannels[i] {
			isFallbackChannels = false
		}
	}
	if isFallbackChannels && len(prefs.DefaultChannels) > 0 {
		intent.Channels = prefs.DefaultChannels
	}

	if intent.Priority == 5 && prefs.DefaultPriority != 0 {
		intent.Priority = prefs.DefaultPriority
	}
}

func sanitizeBody(intent *entities.ReminderIntent) error {
	intent.Message = scheduler.TruncateBody(intent.Message)
	if scheduler.HasTokenLoop(intent.Message) {
		return apperr.New(apperr.KindPolicy, "message rejected: repetitive content detected")
	}
	return nil
}

func (s *Service) commitIntent(ctx context.Context, sessionID string, parsed entities.ReminderIntent, now time.Time) (Receipt, error) {
	if parsed.DueAt == nil {
		return Receipt{}, apperr.New(apperr.KindValidation, "intent has no resolvable due time")
	}

	rem := &entities.Reminder{
		Kind:       entities.KindRemind,
		Message:    parsed.Message,
		DueAt:      *parsed.DueAt,
		CreatedAt:  now,
		Timezone:   parsed.Timezone,
		Channels:   parsed.Channels,
		Priority:   parsed.Priority,
		Status:     entities.StatusScheduled,
		Recurrence: parsed.Recurrence,
	}

	if err := s.Reminders.Insert(ctx, rem); err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindStore, "insert reminder", err)
	}

	after, err := json.Marshal(rem)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindStore, "marshal reminder snapshot", err)
	}

	entry, err := s.Ledger.Record(ctx, sessionID, "reminder", strconv.FormatInt(rem.ID, 10), entities.LedgerCreate, nil, string(after), now, s.Cfg.Ledger.UndoWindow)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindStore, "record ledger entry", err)
	}

	return Receipt{
		ReminderID: &rem.ID,
		Status:     string(rem.Status),
		UndoToken:  entry.UndoToken,
	}, nil
}

// ConfirmDraft commits a pending draft to C3, per spec.md §4.7 confirm(draft_id).
func (s *Service) ConfirmDraft(ctx context.Context, sessionID, draftID string, now time.Time) (Receipt, error) {
	draft, err := s.Pending.Get(ctx, draftID, now)
	if err != nil {
		return Receipt{}, mapPendingErr(err)
	}

	var parsed entities.ReminderIntent
	if err := json.Unmarshal([]byte(draft.ProposedPayload), &parsed); err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindStore, "unmarshal draft payload", err)
	}

	receipt, err := s.commitIntent(ctx, sessionID, parsed, now)
	if err != nil {
		return Receipt{}, err
	}

	if err := s.Pending.Commit(ctx, draftID, now); err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindStore, "commit draft", err)
	}

	return receipt, nil
}

// ModifyDraft applies a cross-message modification to a pending draft.
func (s *Service) ModifyDraft(ctx context.Context, draftID, text string, now time.Time) (entities.PendingConfirmation, bool, error) {
	draft, changed, err := s.Pending.Modify(ctx, draftID, text, now)
	if err != nil {
		return entities.PendingConfirmation{}, false, mapPendingErr(err)
	}
	return draft, changed, nil
}

func mapPendingErr(err error) error {
	switch err {
	case pending.ErrDraftNotFound:
		return apperr.Wrap(apperr.KindNotFound, "draft not found", err)
	case pending.ErrDraftExpired:
		return apperr.Wrap(apperr.KindState, "draft has expired", err)
	default:
		return apperr.Wrap(apperr.KindStore, "pending store", err)
	}
}

// Get fetches a reminder with its audit log.
func (s *Service) Get(ctx context.Context, id int64) (*entities.Reminder, error) {
	rem, err := s.Reminders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrReminderNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("reminder %d not found", id), err)
		}
		return nil, apperr.Wrap(apperr.KindStore, "get reminder", err)
	}
	return rem, nil
}

// List filters reminders by status ("" or "all" means every status).
func (s *Service) List(ctx context.Context, status string) ([]entities.Reminder, error) {
	rems, err := s.Reminders.List(ctx, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list reminders", err)
	}
	return rems, nil
}

// Health mirrors spec.md §6's GET /api/reminders/health response shape
// exactly: {status, scheduler{...}, reminders{...}, delivery{...}, timestamp}.
type Health struct {
	Status    string          `json:"status"`
	Scheduler HealthScheduler `json:"scheduler"`
	Reminders HealthReminders `json:"reminders"`
	Delivery  HealthDelivery  `json:"delivery"`
	Timestamp time.Time       `json:"timestamp"`
}

type HealthScheduler struct {
	LastHeartbeat   *time.Time `json:"last_heartbeat"`
	HeartbeatAgeSec *float64   `json:"heartbeat_age_sec"`
	IsAlive         bool       `json:"is_alive"`
}

type HealthReminders struct {
	ScheduledCount int        `json:"scheduled_count"`
	NextDueAt      *time.Time `json:"next_due_at"`
	NextDueInSec   *float64   `json:"next_due_in_sec"`
}

type HealthDelivery struct {
	LastSuccess *time.Time `json:"last_success"`
	LastError   *string    `json:"last_error"`
}

// heartbeatAliveWindow is how stale the last tick may be before the
// scheduler is reported unhealthy; three missed ticks at the configured
// interval, floored at a minute so a fast test interval doesn't flap.
const heartbeatAliveWindow = 3

func (s *Service) HealthCheck(ctx context.Context, now time.Time) (Health, error) {
	h := Health{Timestamp: now}

	hb, err := s.Reminders.Heartbeat(ctx)
	if err != nil {
		return Health{}, apperr.Wrap(apperr.KindStore, "read heartbeat", err)
	}
	alive := false
	if !hb.IsZero() {
		h.Scheduler.LastHeartbeat = &hb
		age := now.Sub(hb).Seconds()
		h.Scheduler.HeartbeatAgeSec = &age
		maxAge := time.Duration(heartbeatAliveWindow) * s.Cfg.Scheduler.PollInterval
		if maxAge < time.Minute {
			maxAge = time.Minute
		}
		alive = now.Sub(hb) <= maxAge
	}
	h.Scheduler.IsAlive = alive

	next, err := s.Reminders.NextScheduled(ctx)
	if err != nil {
		return Health{}, apperr.Wrap(apperr.KindStore, "read next scheduled", err)
	}
	h.Reminders.NextDueAt = next
	if next != nil {
		secs := next.Sub(now).Seconds()
		h.Reminders.NextDueInSec = &secs
	}
	if h.Reminders.ScheduledCount, err = s.Reminders.CountByStatus(ctx, entities.StatusScheduled); err != nil {
		return Health{}, apperr.Wrap(apperr.KindStore, "count scheduled", err)
	}

	lastSuccess, lastError, _, err := s.Reminders.LastDeliveryStatus(ctx)
	if err != nil {
		return Health{}, apperr.Wrap(apperr.KindStore, "read last delivery status", err)
	}
	h.Delivery.LastSuccess = lastSuccess
	h.Delivery.LastError = lastError

	if alive {
		h.Status = "ok"
	} else {
		h.Status = "degraded"
	}

	return h, nil
}
