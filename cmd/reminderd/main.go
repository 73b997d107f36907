// Command reminderd runs the reminder core as a long-lived service: the
// HTTP callback endpoint and the cron-driven scheduler share one process
// and one set of SQLite-backed stores, mirroring the teacher's single
// cmd/bot/main.go wiring everything and handing off to a background
// scheduler goroutine plus a foreground serve loop.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/api"
	"github.com/reminder-core/reminder/internal/app"
	"github.com/reminder-core/reminder/internal/config"
	"github.com/reminder-core/reminder/internal/idempotency"
	"github.com/reminder-core/reminder/internal/intent"
	"github.com/reminder-core/reminder/internal/ledger"
	"github.com/reminder-core/reminder/internal/logger"
	"github.com/reminder-core/reminder/internal/notify"
	"github.com/reminder-core/reminder/internal/pending"
	"github.com/reminder-core/reminder/internal/preferences"
	"github.com/reminder-core/reminder/internal/scheduler"
	"github.com/reminder-core/reminder/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	lg, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = lg.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		lg.Fatal("invalid default timezone", zap.String("timezone", cfg.DefaultTimezone), zap.Error(err))
	}

	remindersDB, err := store.OpenReminders(ctx, cfg.DataDir)
	if err != nil {
		lg.Fatal("open reminders store", zap.Error(err))
	}
	ledgerDB, err := store.OpenLedger(ctx, cfg.DataDir)
	if err != nil {
		lg.Fatal("open ledger store", zap.Error(err))
	}
	pendingDB, err := store.OpenPending(ctx, cfg.DataDir)
	if err != nil {
		lg.Fatal("open pending store", zap.Error(err))
	}
	idemDB, err := store.OpenIdempotency(ctx, cfg.DataDir)
	if err != nil {
		lg.Fatal("open idempotency store", zap.Error(err))
	}
	prefDB, err := store.OpenPreferences(ctx, cfg.DataDir)
	if err != nil {
		lg.Fatal("open preferences store", zap.Error(err))
	}

	reminders := store.NewReminderStore(remindersDB)

	router := notify.NewRouter(lg,
		notify.NewNtfyProvider(cfg.Notify.NtfyBaseURL, cfg.Notify.NtfyTopic, cfg.Notify.DryRun, lg),
		notify.NewVoiceProvider(),
		notify.NewDesktopPopupProvider(),
	)

	svc := app.New(
		reminders,
		ledger.New(ledgerDB),
		pending.New(pendingDB),
		idempotency.New(idemDB),
		preferences.New(prefDB),
		intent.New(),
		router,
		lg,
		cfg,
		loc,
	)

	sched := scheduler.New(reminders, router, lg, cfg.Scheduler, cfg.Notify.PublicBaseURL, cfg.API.ActionToken, loc)

	handler := api.NewHandler(svc)
	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: mountAPI(handler, cfg.API.ActionToken),
	}

	go func() {
		if err := sched.Start(ctx); err != nil {
			lg.Error("scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		lg.Info("http server listening", zap.String("addr", cfg.API.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Error("http server shutdown", zap.Error(err))
	}
}

func mountAPI(h *api.Handler, actionToken string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes(actionToken)))
	return mux
}
