// Package api is C6, the HTTP callback endpoint notification actions and
// external integrations use to read and mutate reminders, grounded on the
// teacher pack's chi-router task.Handler shape.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reminder-core/reminder/internal/app"
	"github.com/reminder-core/reminder/internal/idempotency"
)

var validate = validator.New()

// Handler wires the HTTP surface for reminder CRUD, callback actions, and
// health to the in-process service layer.
type Handler struct {
	service *app.Service
}

func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// Routes builds the chi router for spec.md §6's HTTP API plus the
// additive text-create and draft confirm/modify routes. Every mutating
// route sits behind RequireActionToken; the spec requires the token on
// "every mutating request," and read routes are left open for dashboards.
func (h *Handler) Routes(actionToken string) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RequireActionToken(actionToken))
		r.Post("/reminders", h.create)
		r.Post("/reminders/{id}/action", h.action)
		r.Post("/reminders/text", h.createFromText)
		r.Post("/reminders/drafts/{draft_id}/confirm", h.confirmDraft)
		r.Post("/reminders/drafts/{draft_id}/modify", h.modifyDraft)
	})

	r.Get("/reminders", h.list)
	r.Get("/reminders/{id}", h.get)
	r.Get("/reminders/health", h.health)

	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req app.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := sessionFromRequest(r)
	now := time.Now().UTC()

	receipt, err := h.service.CreateStructured(r.Context(), sessionID, req, now)
	if err != nil {
		WriteErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, receipt)
}

type textCreateRequest struct {
	Text string `json:"text" validate:"required"`
}

// createFromText is the raw-text counterpart to create: it runs the text
// through C2's normalizer instead of taking an already-structured body,
// parking a draft in C7 when the intent needs clarification.
func (h *Handler) createFromText(w http.ResponseWriter, r *http.Request) {
	var req textCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := sessionFromRequest(r)
	now := time.Now().UTC()

	receipt, err := h.service.CreateFromText(r.Context(), sessionID, req.Text, now)
	if err != nil {
		WriteErr(w, err)
		return
	}

	status := http.StatusCreated
	if receipt.NeedsClarification {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, receipt)
}

// confirmDraft commits a pending draft (spec.md §4.7 confirm(draft_id)).
func (h *Handler) confirmDraft(w http.ResponseWriter, r *http.Request) {
	draftID := chi.URLParam(r, "draft_id")
	now := time.Now().UTC()

	receipt, err := h.service.ConfirmDraft(r.Context(), sessionFromRequest(r), draftID, now)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, receipt)
}

type modifyDraftRequest struct {
	Text string `json:"text" validate:"required"`
}

// modifyDraft applies a cross-message modification to a pending draft
// (spec.md §4.7's "cross-message modification").
func (h *Handler) modifyDraft(w http.ResponseWriter, r *http.Request) {
	draftID := chi.URLParam(r, "draft_id")

	var req modifyDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	draft, changed, err := h.service.ModifyDraft(r.Context(), draftID, req.Text, now)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"draft": draft, "changed": changed})
}

type actionRequest struct {
	Action  string `json:"action" validate:"required"`
	Token   string `json:"token"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "invalid reminder id")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := sessionFromRequest(r)
	now := time.Now().UTC()
	dedupeKey := idempotency.Key("action", chi.URLParam(r, "id"), req.Action, req.Token)

	rem, err := h.service.Action(r.Context(), sessionID, id, req.Action, dedupeKey, req.Confirm, now)
	if err != nil {
		WriteErr(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, rem)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	rems, err := h.service.List(r.Context(), status)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"reminders": rems})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "invalid reminder id")
		return
	}
	rem, err := h.service.Get(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rem)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	health, err := h.service.HealthCheck(r.Context(), now)
	if err != nil {
		WriteErr(w, err)
		return
	}
	status := http.StatusOK
	if !health.Scheduler.IsAlive {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, health)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func sessionFromRequest(r *http.Request) string {
	if s := r.Header.Get("X-Session-ID"); s != "" {
		return s
	}
	return "default"
}
