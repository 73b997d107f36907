// Package scheduler implements C5: a long-running loop that owns
// wall-clock progression, claiming due reminders from C3 and dispatching
// them through C4 with retry and restart-safety semantics.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reminder-core/reminder/internal/config"
	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/notify"
	"github.com/reminder-core/reminder/internal/store"
)

// AppName is used to build each notification's title per spec.md §4.5.
const AppName = "Reminder"

// Scheduler is C5. It mirrors the teacher's ReminderService: a cron.Cron
// drives a single recurring tick, generalized here from the teacher's
// fixed hourly "0 * * * *" entry to a configurable "@every <N>s" poll.
type Scheduler struct {
	reminders     *store.ReminderStore
	router        *notify.Router
	logger        *zap.Logger
	cfg           config.SchedulerConfig
	publicBaseURL string
	actionToken   string
	loc           *time.Location

	cron   *cron.Cron
	stopCh chan struct{}
}

func New(reminders *store.ReminderStore, router *notify.Router, logger *zap.Logger, cfg config.SchedulerConfig, publicBaseURL, actionToken string, loc *time.Location) *Scheduler {
	return &Scheduler{
		reminders:     reminders,
		router:        router,
		logger:        logger,
		cfg:           cfg,
		publicBaseURL: publicBaseURL,
		actionToken:   actionToken,
		loc:           loc,
		cron:          cron.New(cron.WithLocation(time.UTC)),
		stopCh:        make(chan struct{}),
	}
}

// Start runs restart recovery once, then registers and starts the tick
// loop. It blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	now := time.Now().UTC()
	recovered, err := s.reminders.RestartRecover(ctx, now, s.cfg.MaxCrashWindow, s.cfg.MaxAttempts, backoffFor)
	if err != nil {
		return fmt.Errorf("restart recovery: %w", err)
	}
	if recovered > 0 {
		s.logger.Info("recovered in-doubt reminders after restart", zap.Int("count", recovered))
	}

	spec := fmt.Sprintf("@every %ds", int(s.cfg.PollInterval.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("poll_interval", s.cfg.PollInterval))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// tick implements spec.md §4.5's per-tick algorithm.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	claimed, err := s.reminders.ClaimDue(ctx, now, s.cfg.MaxBatch)
	if err != nil {
		s.logger.Error("claim_due failed", zap.Error(err))
		return
	}

	if len(claimed) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxBatch)
		for _, rem := range claimed {
			rem := rem
			g.Go(func() error {
				s.dispatchOne(gctx, rem, now)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := s.reminders.TouchHeartbeat(ctx, now); err != nil {
		s.logger.Error("heartbeat write failed", zap.Error(err))
	}
}

func (s *Scheduler) dispatchOne(ctx context.Context, rem entities.Reminder, now time.Time) {
	title := fmt.Sprintf("%s Reminder (%s)", AppName, rem.Kind)
	payload := notify.Payload{
		Title:   title,
		Body:    rem.Message,
		Actions: s.buildActions(rem.ID),
	}

	results := s.router.Dispatch(ctx, &rem, payload)

	anyOK := false
	lastErr := ""
	for ch, res := range results {
		anyOK = anyOK || res.OK
		if !res.OK {
			lastErr = res.Error
		}
		if err := s.reminders.AppendAudit(ctx, rem.ID, entities.AuditEntry{
			TS:     now,
			Action: entities.AuditDeliveryAttempt,
			Actor:  "scheduler",
			Details: fmt.Sprintf("channel=%s ok=%v dry_run=%v error=%s", ch, res.OK, res.DryRun, res.Error),
		}); err != nil {
			s.logger.Error("append delivery audit failed", zap.Int64("reminder_id", rem.ID), zap.Error(err))
		}
	}

	switch {
	case anyOK:
		if err := s.reminders.ClearLastError(ctx, rem.ID); err != nil {
			s.logger.Error("clear last_error failed", zap.Int64("reminder_id", rem.ID), zap.Error(err))
		}
		s.maybeReinsertRecurrence(ctx, rem, now)

	case rem.AttemptCount < s.cfg.MaxAttempts:
		if err := s.reminders.RescheduleBackoff(ctx, rem.ID, now, backoffFor(rem.AttemptCount), lastErr); err != nil {
			s.logger.Error("reschedule backoff failed", zap.Int64("reminder_id", rem.ID), zap.Error(err))
		}

	default:
		if err := s.reminders.MarkFailed(ctx, rem.ID, now, lastErr); err != nil {
			s.logger.Error("mark failed transition failed", zap.Int64("reminder_id", rem.ID), zap.Error(err))
		}
	}
}

// maybeReinsertRecurrence inserts a fresh one-shot scheduled row for the
// next occurrence of a recurring reminder, leaving the fired row's status
// untouched — claim_due's "one scheduled row per occurrence" contract
// never mutates an already-claimed row back into scheduled for recurrence.
func (s *Scheduler) maybeReinsertRecurrence(ctx context.Context, rem entities.Reminder, now time.Time) {
	if rem.Recurrence == nil {
		return
	}

	loc := s.loc
	if l, err := time.LoadLocation(rem.Timezone); err == nil {
		loc = l
	}

	nextDue, err := NextOccurrence(*rem.Recurrence, rem.DueAt, loc)
	if err != nil {
		s.logger.Warn("could not compute next recurrence", zap.Int64("reminder_id", rem.ID), zap.Error(err))
		return
	}

	next := entities.Reminder{
		Kind:       rem.Kind,
		Message:    rem.Message,
		DueAt:      nextDue,
		CreatedAt:  now,
		Timezone:   rem.Timezone,
		Channels:   rem.Channels,
		Priority:   rem.Priority,
		Status:     entities.StatusScheduled,
		Recurrence: rem.Recurrence,
	}
	if err := s.reminders.Insert(ctx, &next); err != nil {
		s.logger.Error("reinsert recurring reminder failed", zap.Int64("source_reminder_id", rem.ID), zap.Error(err))
	}
}

func (s *Scheduler) buildActions(reminderID int64) []notify.Action {
	if s.publicBaseURL == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/reminders/%d/action", s.publicBaseURL, reminderID)
	return []notify.Action{
		{Label: "Done", Action: "DONE", URL: endpoint},
		{Label: "Snooze 30m", Action: "SNOOZE_30", URL: endpoint},
		{Label: "Delay 2h", Action: "DELAY_2H", URL: endpoint},
	}
}

// backoffFor implements spec.md §4.5(e)'s 60*2^(attempt-1) backoff in
// seconds: 60s, 120s, 240s for attempts 1, 2, 3.
func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(60*(1<<uint(attempt-1))) * time.Second
}
