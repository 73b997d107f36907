// Command reminderctl is the local command-line surface for the reminder
// core: add/list/cancel talk directly to the same SQLite-backed stores
// reminderd serves over HTTP, since this is a local single-user embedded
// store rather than a client-server database. "run" starts the scheduler
// in the foreground, the CLI equivalent of reminderd without the HTTP
// listener. Grounded on the teacher pack's cobra rootCmd/subcommand shape
// (internal/cli/root.go, internal/cli/account.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

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

const (
	exitUsage       = 2
	exitUnreachable = 3
)

var (
	jsonOut  bool
	whenFlag string
	kindFlag string
	chanFlag string
	tzFlag   string

	statusFlag string
	allFlag    bool

	intervalFlag int
)

var rootCmd = &cobra.Command{
	Use:   "reminderctl",
	Short: "Command-line client for the reminder core",
}

var addCmd = &cobra.Command{
	Use:   "add MESSAGE",
	Short: "Create a reminder",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders",
	RunE:  runList,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a reminder",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler in the foreground",
	RunE:  runScheduler,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output in JSON format")

	addCmd.Flags().StringVar(&whenFlag, "when", "", "when the reminder is due (required)")
	addCmd.Flags().StringVar(&kindFlag, "kind", "REMIND", "REMIND or ALARM")
	addCmd.Flags().StringVar(&chanFlag, "channels", "", "comma-separated channel list")
	addCmd.Flags().StringVar(&tzFlag, "tz", "", "IANA timezone, defaults to DEFAULT_TIMEZONE")
	_ = addCmd.MarkFlagRequired("when")

	listCmd.Flags().StringVar(&statusFlag, "status", "scheduled", "filter by status")
	listCmd.Flags().BoolVar(&allFlag, "all", false, "include every status")

	runCmd.Flags().IntVar(&intervalFlag, "interval", 0, "override SCHEDULER_POLL_SEC")

	rootCmd.AddCommand(addCmd, listCmd, cancelCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if _, ok := err.(*usageError); ok {
		return exitUsage
	}
	return exitUnreachable
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// ctlContext opens every store the service layer needs, directly against
// the configured data directory — no network hop, since reminderctl and
// reminderd share the same embedded state.
type ctlContext struct {
	svc *app.Service
}

func newCtlContext(ctx context.Context) (*ctlContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &usageError{msg: fmt.Sprintf("load config: %v", err)}
	}

	lg, err := logger.New(cfg)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if tz := cfg.DefaultTimezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	remindersDB, err := store.OpenReminders(ctx, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open reminders store (is another reminderctl/reminderd process using it?): %w", err)
	}
	ledgerDB, err := store.OpenLedger(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	pendingDB, err := store.OpenPending(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	idemDB, err := store.OpenIdempotency(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	prefDB, err := store.OpenPreferences(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
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

	return &ctlContext{svc: svc}, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	if whenFlag == "" {
		return &usageError{msg: "--when is required"}
	}
	kind := strings.ToUpper(kindFlag)
	if kind != "REMIND" && kind != "ALARM" {
		return &usageError{msg: "--kind must be REMIND or ALARM"}
	}

	ctx := cmd.Context()
	cc, err := newCtlContext(ctx)
	if err != nil {
		return err
	}

	var channels []string
	if chanFlag != "" {
		channels = strings.Split(chanFlag, ",")
	}

	req := app.CreateRequest{
		Message:  args[0],
		RemindAt: whenFlag,
		Kind:     kind,
		Channels: channels,
		Timezone: tzFlag,
	}

	receipt, err := cc.svc.CreateStructured(ctx, "cli", req, time.Now().UTC())
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(receipt)
	}
	if receipt.ReminderID != nil {
		fmt.Printf("created reminder %d (status=%s, undo_token=%s)\n", *receipt.ReminderID, receipt.Status, receipt.UndoToken)
	} else {
		fmt.Printf("saved draft %s: %s\n", *receipt.DraftID, receipt.ClarifyingQuestion)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc, err := newCtlContext(ctx)
	if err != nil {
		return err
	}

	status := statusFlag
	if allFlag {
		status = ""
	}

	rems, err := cc.svc.List(ctx, status)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(rems)
	}

	fmt.Println("ID      STATUS       DUE_AT                     MESSAGE")
	for _, r := range rems {
		fmt.Printf("%-8d%-13s%-27s%s\n", r.ID, r.Status, r.DueAt.Format(time.RFC3339), truncate(r.Message, 40))
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &usageError{msg: "ID must be an integer"}
	}

	ctx := cmd.Context()
	cc, err := newCtlContext(ctx)
	if err != nil {
		return err
	}

	if err := cc.svc.Cancel(ctx, "cli", id, time.Now().UTC()); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{"status": "canceled", "id": id})
	}
	fmt.Printf("canceled reminder %d\n", id)
	return nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &usageError{msg: fmt.Sprintf("load config: %v", err)}
	}
	if intervalFlag > 0 {
		cfg.Scheduler.PollInterval = time.Duration(intervalFlag) * time.Second
	}

	lg, err := logger.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := time.UTC
	if l, err := time.LoadLocation(cfg.DefaultTimezone); err == nil {
		loc = l
	}

	remindersDB, err := store.OpenReminders(ctx, cfg.DataDir)
	if err != nil {
		return err
	}
	reminders := store.NewReminderStore(remindersDB)

	router := notify.NewRouter(lg,
		notify.NewNtfyProvider(cfg.Notify.NtfyBaseURL, cfg.Notify.NtfyTopic, cfg.Notify.DryRun, lg),
		notify.NewVoiceProvider(),
		notify.NewDesktopPopupProvider(),
	)

	sched := scheduler.New(reminders, router, lg, cfg.Scheduler, cfg.Notify.PublicBaseURL, cfg.API.ActionToken, loc)

	lg.Info("reminderctl run: scheduler starting", zap.Duration("poll_interval", cfg.Scheduler.PollInterval))
	return sched.Start(ctx)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
