package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/apperr"
	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/idempotency"
	"github.com/reminder-core/reminder/internal/notify"
	"github.com/reminder-core/reminder/internal/store"
)

var snoozeMinutes = map[string]int{
	"SNOOZE_5":  5,
	"SNOOZE_15": 15,
	"SNOOZE_30": 30,
	"SNOOZE_60": 60,
}

var delayHours = map[string]int{
	"DELAY_1H": 1,
	"DELAY_2H": 2,
	"DELAY_4H": 4,
	"DELAY_8H": 8,
}

// Action applies a callback action to a reminder (spec.md §4.6), writing a
// ledger entry and, for DONE, dispatching a confirmation notification.
// dedupeKey makes the whole operation idempotent within a 60s window.
// confirmed must be true to let a CANCEL through for a session whose
// preferences set ConfirmDestructive; any other action ignores it.
func (s *Service) Action(ctx context.Context, sessionID string, id int64, action, dedupeKey string, confirmed bool, now time.Time) (*entities.Reminder, error) {
	if cached, err := s.Idempotency.Check(ctx, dedupeKey, now, 60*time.Second); err != nil {
		if errors.Is(err, idempotency.ErrDuplicate) {
			var rem entities.Reminder
			if jsonErr := json.Unmarshal([]byte(cached), &rem); jsonErr == nil {
				return &rem, nil
			}
		}
		return nil, apperr.Wrap(apperr.KindStore, "idempotency check", err)
	}

	if action == "CANCEL" && !confirmed {
		prefs, err := s.Preferences.Get(ctx, sessionID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "get preferences", err)
		}
		if prefs.ConfirmDestructive {
			return nil, apperr.New(apperr.KindPolicy, "cancel requires confirmation: resubmit the action with confirm=true")
		}
	}

	before, err := s.Reminders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrReminderNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("reminder %d not found", id), err)
		}
		return nil, apperr.Wrap(apperr.KindStore, "get reminder", err)
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "marshal before snapshot", err)
	}
	beforeStr := string(beforeJSON)

	if err := s.applyAction(ctx, id, action, now); err != nil {
		return nil, err
	}

	after, err := s.Reminders.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get reminder after action", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "marshal after snapshot", err)
	}

	if _, err := s.Ledger.Record(ctx, sessionID, "reminder", strconv.FormatInt(id, 10), entities.LedgerUpdate, &beforeStr, string(afterJSON), now, s.Cfg.Ledger.UndoWindow); err != nil {
		s.Logger.Error("record ledger entry for action failed", zap.Int64("reminder_id", id))
	}

	if err := s.Idempotency.StoreResult(ctx, dedupeKey, string(afterJSON)); err != nil {
		s.Logger.Warn("store idempotency result failed", zap.Int64("reminder_id", id))
	}

	if action == "DONE" {
		s.sendConfirmation(ctx, after, now)
	}

	return after, nil
}

func (s *Service) applyAction(ctx context.Context, id int64, action string, now time.Time) error {
	switch {
	case action == "DONE":
		if err := s.Reminders.Acknowledge(ctx, id, now); err != nil {
			return mapTransitionErr(err, id)
		}
		return nil

	case strings.HasPrefix(action, "SNOOZE_"):
		minutes, ok := snoozeMinutes[action]
		if !ok {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported snooze action %q", action))
		}
		if err := s.Reminders.Snooze(ctx, id, now, time.Duration(minutes)*time.Minute); err != nil {
			return mapTransitionErr(err, id)
		}
		return nil

	case strings.HasPrefix(action, "DELAY_"):
		hours, ok := delayHours[action]
		if !ok {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported delay action %q", action))
		}
		if err := s.Reminders.Delay(ctx, id, now, time.Duration(hours)*time.Hour); err != nil {
			return mapTransitionErr(err, id)
		}
		return nil

	case action == "CANCEL":
		if err := s.Reminders.Cancel(ctx, id, now); err != nil {
			return mapTransitionErr(err, id)
		}
		return nil

	default:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown action %q", action))
	}
}

func mapTransitionErr(err error, id int64) error {
	if errors.Is(err, store.ErrInvalidTransition) {
		return apperr.Wrap(apperr.KindState, fmt.Sprintf("reminder %d cannot accept this action in its current state", id), err)
	}
	if errors.Is(err, store.ErrReminderNotFound) {
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("reminder %d not found", id), err)
	}
	return apperr.Wrap(apperr.KindStore, "apply action", err)
}

func (s *Service) sendConfirmation(ctx context.Context, rem *entities.Reminder, now time.Time) {
	results := s.Router.Dispatch(ctx, &entities.Reminder{
		ID:       rem.ID,
		Kind:     rem.Kind,
		Priority: rem.Priority,
		Channels: []entities.Channel{entities.ChannelNtfy},
	}, notify.Payload{
		Title: fmt.Sprintf("%s Reminder (%s)", "Reminder", rem.Kind),
		Body:  fmt.Sprintf("Done: %s", rem.Message),
	})
	if res, ok := results[entities.ChannelNtfy]; !ok || !res.OK {
		s.Logger.Warn("confirmation notification failed", zap.Int64("reminder_id", rem.ID))
	}
}

// Undo reverses the most recent ledger-recorded action (undo_last) or the
// action identified by an explicit token, replaying the before snapshot
// back onto C3.
func (s *Service) Undo(ctx context.Context, sessionID, token string, now time.Time) error {
	reverse := func(ctx context.Context, entry entities.ActionLedgerEntry) error {
		if entry.BeforeSnapshot == nil {
			return s.Reminders.Cancel(ctx, mustParseID(entry.EntityID), now)
		}
		var before entities.Reminder
		if err := json.Unmarshal([]byte(*entry.BeforeSnapshot), &before); err != nil {
			return fmt.Errorf("unmarshal before snapshot: %w", err)
		}
		return s.restoreReminder(ctx, before, now)
	}

	if token != "" {
		_, err := s.Ledger.Undo(ctx, token, now, s.Cfg.Ledger.UndoWindow, reverse)
		return mapLedgerErr(err)
	}

	_, err := s.Ledger.UndoLast(ctx, sessionID, now, s.Cfg.Ledger.UndoWindow, reverse)
	return mapLedgerErr(err)
}

// Cancel cancels a reminder outright, recording a ledger entry so it can
// still be undone within the window. Used by the CLI's cancel command;
// CANCEL callback actions go through Action instead.
func (s *Service) Cancel(ctx context.Context, sessionID string, id int64, now time.Time) error {
	before, err := s.Reminders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrReminderNotFound) {
			return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("reminder %d not found", id), err)
		}
		return apperr.Wrap(apperr.KindStore, "get reminder", err)
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "marshal before snapshot", err)
	}
	beforeStr := string(beforeJSON)

	if err := s.Reminders.Cancel(ctx, id, now); err != nil {
		return mapTransitionErr(err, id)
	}

	after, err := s.Reminders.Get(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "get reminder after cancel", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "marshal after snapshot", err)
	}

	if _, err := s.Ledger.Record(ctx, sessionID, "reminder", strconv.FormatInt(id, 10), entities.LedgerUpdate, &beforeStr, string(afterJSON), now, s.Cfg.Ledger.UndoWindow); err != nil {
		s.Logger.Error("record ledger entry for cancel failed", zap.Int64("reminder_id", id))
	}
	return nil
}

// restoreReminder writes a before-snapshot back onto the live row via
// ReminderStore.Restore, which sets status/due_at/sent_at/canceled_at/
// attempt_count/last_error exactly rather than replaying a forward action —
// a reminder undone from "done" back to "fired" has no forward transition
// that produces it, so the snapshot must be written directly.
func (s *Service) restoreReminder(ctx context.Context, before entities.Reminder, now time.Time) error {
	return s.Reminders.Restore(ctx, before, now)
}

func mapLedgerErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrReminderNotFound):
		return apperr.Wrap(apperr.KindNotFound, "reminder not found", err)
	default:
		return apperr.Wrap(apperr.KindState, "undo failed", err)
	}
}

func mustParseID(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
