package app

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/reminder-core/reminder/internal/apperr"
	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/timeparse"
)

// CreateRequest is the structured create body from spec.md §6's
// POST /api/reminders, bypassing C2's natural-language normalizer for
// callers that already know the exact fields.
type CreateRequest struct {
	Message    string   `json:"message" validate:"required"`
	RemindAt   string   `json:"remind_at" validate:"required"`
	Kind       string   `json:"kind"`
	Channels   []string `json:"channels"`
	Channel    string   `json:"channel"` // legacy single-channel field
	Priority   int      `json:"priority"`
	Timezone   string   `json:"timezone"`
	ContextRef string   `json:"context_ref"`
}

// CreateStructured inserts a reminder straight into C3 from an already-
// structured request, per spec.md §6.
func (s *Service) CreateStructured(ctx context.Context, sessionID string, req CreateRequest, now time.Time) (Receipt, error) {
	if req.Message == "" {
		return Receipt{}, apperr.New(apperr.KindValidation, "message is required")
	}

	loc := s.Loc
	tz := req.Timezone
	if tz == "" {
		tz = s.Loc.String()
	} else if l, err := time.LoadLocation(tz); err == nil {
		loc = l
	} else {
		return Receipt{}, apperr.Wrap(apperr.KindValidation, "unknown timezone", err)
	}

	dueAt, err := resolveRemindAt(req.RemindAt, now, loc)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindParse, "could not parse remind_at", err)
	}

	kind := entities.KindRemind
	if req.Kind != "" {
		kind = entities.Kind(req.Kind)
		if kind != entities.KindRemind && kind != entities.KindAlarm {
			return Receipt{}, apperr.New(apperr.KindValidation, "kind must be REMIND or ALARM")
		}
	}

	channels := resolveChannels(req.Channels, req.Channel)

	priority := req.Priority
	if priority == 0 {
		priority = 5
	}
	clamped, _ := entities.ClampPriority(priority)

	intent := entities.ReminderIntent{
		Message:  req.Message,
		DueAt:    &dueAt,
		Timezone: tz,
		Channels: channels,
		Priority: clamped,
	}
	if err := sanitizeBody(&intent); err != nil {
		return Receipt{}, err
	}

	rem := &entities.Reminder{
		Kind:      kind,
		Message:   intent.Message,
		DueAt:     *intent.DueAt,
		CreatedAt: now,
		Timezone:  tz,
		Channels:  channels,
		Priority:  clamped,
		Status:    entities.StatusScheduled,
	}
	if req.ContextRef != "" {
		rem.ContextRef = &req.ContextRef
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

	return Receipt{ReminderID: &rem.ID, Status: string(rem.Status), UndoToken: entry.UndoToken}, nil
}

func resolveRemindAt(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	if sec, err := parseUnixSeconds(raw); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	res, err := timeparse.Parse(raw, now, loc)
	if err != nil {
		return time.Time{}, err
	}
	if res.At == nil {
		return time.Time{}, apperr.New(apperr.KindParse, "remind_at resolved to a partial time, not an instant")
	}
	return *res.At, nil
}

func parseUnixSeconds(s string) (int64, error) {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, apperr.New(apperr.KindParse, "not a unix timestamp")
		}
	}
	if s == "" {
		return 0, apperr.New(apperr.KindParse, "empty")
	}
	for _, r := range s {
		n = n*10 + int64(r-'0')
	}
	return n, nil
}

// resolveChannels uses the channels[] field (de-duplicated) when it is
// non-empty; otherwise it maps the legacy single-string channel field per
// spec.md §4.3's migration rule: "ntfy"->["ntfy"], "voice"->["voice"],
// "both"->["ntfy","voice"], and any other value to the default channels.
func resolveChannels(channels []string, legacy string) []entities.Channel {
	if len(channels) > 0 {
		out := make([]entities.Channel, 0, len(channels))
		for _, c := range channels {
			out = append(out, entities.Channel(c))
		}
		return entities.NormalizeChannels(out)
	}
	switch legacy {
	case "ntfy":
		return []entities.Channel{entities.ChannelNtfy}
	case "voice":
		return []entities.Channel{entities.ChannelVoice}
	case "both":
		return []entities.Channel{entities.ChannelNtfy, entities.ChannelVoice}
	default:
		return entities.NormalizeChannels(nil)
	}
}
