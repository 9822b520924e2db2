// Package api exposes HTTP handlers for the signup service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"example.com/mergington/internal/domain"
	"example.com/mergington/internal/observability"
	"example.com/mergington/internal/web"
)

const indexPath = "/static/index.html"

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", rootRedirect)
	mux.Handle("GET /static/", web.Handler())
	mux.HandleFunc("GET /activities", h.listActivities)
	mux.HandleFunc("POST /activities/{activity_name}/signup", h.signup)
	mux.HandleFunc("DELETE /activities/{activity_name}/unregister", h.unregister)
	mux.HandleFunc("GET /healthz", healthz)
}

func rootRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, indexPath, http.StatusTemporaryRedirect)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.ListActivities(r.Context())
	if err != nil {
		h.serverError(w, "list activities", err)
		return
	}

	resp := make(map[string]ActivityView, len(activities))
	for name, activity := range activities {
		resp[name] = toActivityView(activity)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	activity := r.PathValue("activity_name")
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	conf, err := h.service.Signup(r.Context(), activity, email)
	if err != nil {
		h.rosterError(w, "signup", err)
		return
	}

	observability.RecordOperation("signup", "ok")
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Signed up %s for %s", conf.Email, conf.Activity),
	})
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request) {
	activity := r.PathValue("activity_name")
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	conf, err := h.service.Unregister(r.Context(), activity, email)
	if err != nil {
		h.rosterError(w, "unregister", err)
		return
	}

	observability.RecordOperation("unregister", "ok")
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Unregistered %s from %s", conf.Email, conf.Activity),
	})
}

// emailParam requires the email query parameter to be present; any value,
// including the empty string, is accepted.
func emailParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := r.URL.Query()
	if !query.Has("email") {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "missing email query parameter")
		return "", false
	}
	return query.Get("email"), true
}

func (h *Handler) rosterError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		observability.RecordOperation(operation, "not_found")
		writeError(w, http.StatusNotFound, "not_found", "Activity not found")
	case errors.Is(err, domain.ErrAlreadySignedUp):
		observability.RecordOperation(operation, "conflict")
		writeError(w, http.StatusBadRequest, "already_signed_up", "Student is already signed up for this activity")
	case errors.Is(err, domain.ErrNotSignedUp):
		observability.RecordOperation(operation, "conflict")
		writeError(w, http.StatusBadRequest, "not_signed_up", "Student is not signed up for this activity")
	default:
		observability.RecordOperation(operation, "error")
		h.serverError(w, operation, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error("request failed", slog.String("operation", operation), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

// ActivityView is the JSON shape of one roster entry.
type ActivityView struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// MessageResponse acknowledges a successful roster change.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(a domain.Activity) ActivityView {
	participants := a.Participants
	if participants == nil {
		participants = []string{}
	}
	return ActivityView{
		Description:     a.Description,
		Schedule:        a.Schedule,
		MaxParticipants: a.MaxParticipants,
		Participants:    participants,
	}
}
