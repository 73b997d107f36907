package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/api"
	"github.com/reminder-core/reminder/internal/app"
	"github.com/reminder-core/reminder/internal/config"
	"github.com/reminder-core/reminder/internal/idempotency"
	"github.com/reminder-core/reminder/internal/intent"
	"github.com/reminder-core/reminder/internal/ledger"
	"github.com/reminder-core/reminder/internal/notify"
	"github.com/reminder-core/reminder/internal/pending"
	"github.com/reminder-core/reminder/internal/preferences"
	"github.com/reminder-core/reminder/internal/store"
)

func newTestHandler(t *testing.T) *api.Handler {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	remindersDB, err := store.OpenReminders(ctx, dir)
	require.NoError(t, err)
	ledgerDB, err := store.OpenLedger(ctx, dir)
	require.NoError(t, err)
	pendingDB, err := store.OpenPending(ctx, dir)
	require.NoError(t, err)
	idemDB, err := store.OpenIdempotency(ctx, dir)
	require.NoError(t, err)
	prefDB, err := store.OpenPreferences(ctx, dir)
	require.NoError(t, err)

	loc := time.UTC
	router := notify.NewRouter(zap.NewNop(), notify.NewNtfyProvider("http://example.invalid", "topic", true, zap.NewNop()))

	svc := app.New(
		store.NewReminderStore(remindersDB),
		ledger.New(ledgerDB),
		pending.New(pendingDB),
		idempotency.New(idemDB),
		preferences.New(prefDB),
		intent.New(),
		router,
		zap.NewNop(),
		&config.Config{Ledger: config.LedgerConfig{UndoWindow: 30 * time.Minute, DraftTTL: 10 * time.Minute}, Scheduler: config.SchedulerConfig{PollInterval: time.Minute}},
		loc,
	)

	return api.NewHandler(svc)
}

func TestHandler_CreateAndGet(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"message":   "water the plants",
		"remind_at": "1785574800",
	})
	resp, err := http.Post(srv.URL+"/reminders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var receipt app.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.NotNil(t, receipt.ReminderID)
	assert.Equal(t, "scheduled", receipt.Status)
	assert.NotEmpty(t, receipt.UndoToken)

	getResp, err := http.Get(srv.URL + "/reminders/" + itoa(*receipt.ReminderID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestHandler_CreateRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"remind_at": "2026-08-01T09:00:00Z"})
	resp, err := http.Post(srv.URL+"/reminders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ActionRequiresToken(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes("secret"))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"action": "DONE"})
	resp, err := http.Post(srv.URL+"/reminders/1/action", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_ActionWithToken(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes("secret"))
	defer srv.Close()

	createBody, _ := json.Marshal(map[string]interface{}{
		"message":   "pay rent",
		"remind_at": "1785574800",
		"token":     "secret",
	})
	createResp, err := http.Post(srv.URL+"/reminders", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var receipt app.Receipt
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&receipt))

	actionBody, _ := json.Marshal(map[string]interface{}{"action": "SNOOZE_15", "token": "secret"})
	actionResp, err := http.Post(srv.URL+"/reminders/"+itoa(*receipt.ReminderID)+"/action", "application/json", bytes.NewReader(actionBody))
	require.NoError(t, err)
	defer actionResp.Body.Close()
	assert.Equal(t, http.StatusOK, actionResp.StatusCode)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reminders/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health app.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.False(t, health.Scheduler.IsAlive)
	assert.Equal(t, "degraded", health.Status)
}

func TestHandler_CreateFromText_Direct(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"text": "remind me to call mom at 4:30pm"})
	resp, err := http.Post(srv.URL+"/reminders/text", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var receipt app.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.NotNil(t, receipt.ReminderID)
	assert.Equal(t, "scheduled", receipt.Status)
	assert.False(t, receipt.NeedsClarification)
}

func TestHandler_CreateFromText_DraftConfirm(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"text": "remind me to call the dentist"})
	resp, err := http.Post(srv.URL+"/reminders/text", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var receipt app.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.NotNil(t, receipt.DraftID)
	assert.True(t, receipt.NeedsClarification)
	assert.NotEmpty(t, receipt.ClarifyingQuestion)

	modifyBody, _ := json.Marshal(map[string]interface{}{"text": "change the time to 4:30pm"})
	modifyResp, err := http.Post(srv.URL+"/reminders/drafts/"+*receipt.DraftID+"/modify", "application/json", bytes.NewReader(modifyBody))
	require.NoError(t, err)
	defer modifyResp.Body.Close()
	require.Equal(t, http.StatusOK, modifyResp.StatusCode)

	var modifyResult map[string]interface{}
	require.NoError(t, json.NewDecoder(modifyResp.Body).Decode(&modifyResult))
	assert.Equal(t, true, modifyResult["changed"])

	confirmResp, err := http.Post(srv.URL+"/reminders/drafts/"+*receipt.DraftID+"/confirm", "application/json", nil)
	require.NoError(t, err)
	defer confirmResp.Body.Close()
	assert.Equal(t, http.StatusCreated, confirmResp.StatusCode)

	var confirmed app.Receipt
	require.NoError(t, json.NewDecoder(confirmResp.Body).Decode(&confirmed))
	require.NotNil(t, confirmed.ReminderID)
	assert.Equal(t, "scheduled", confirmed.Status)
}

func TestHandler_ActionCancel(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes(""))
	defer srv.Close()

	createBody, _ := json.Marshal(map[string]interface{}{
		"message":   "renew passport",
		"remind_at": "1785574800",
	})
	createResp, err := http.Post(srv.URL+"/reminders", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var receipt app.Receipt
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&receipt))

	actionBody, _ := json.Marshal(map[string]interface{}{"action": "CANCEL"})
	actionResp, err := http.Post(srv.URL+"/reminders/"+itoa(*receipt.ReminderID)+"/action", "application/json", bytes.NewReader(actionBody))
	require.NoError(t, err)
	defer actionResp.Body.Close()
	require.Equal(t, http.StatusOK, actionResp.StatusCode)

	getResp, err := http.Get(srv.URL + "/reminders/" + itoa(*receipt.ReminderID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	var rem map[string]interface{}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&rem))
	assert.Equal(t, "canceled", rem["status"])
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
