// Package event contains the HTTP handlers for the event resource.
//
// Every handler is built by a factory that captures its dependencies and
// returns the http.HandlerFunc registered on the router:
//
//	router.HandleFunc("POST /api/events", event.New(svc))
//
// Handlers only translate HTTP to service calls and service errors back to
// HTTP; all rules live in the events package.
package event

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/setu/events-api/internal/events"
	"github.com/setu/events-api/internal/http/middleware"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/types"
	"github.com/setu/events-api/internal/utils/response"
)

// ─────────────────────────────────────────────────────────────────────────────
// New handles POST /api/events
// Creates an event organized by the authenticated admin or alumni.
//
// Request body (JSON):
//
//	{ "title": "Alumni Meet", "date": "2026-12-01", "max_capacity": 50 }
//
// Success response (201 Created): the stored event.
//
// Error responses:
//
//	400 Bad Request  — empty body, malformed JSON, missing fields, bad
//	                   capacity or a date in the past
//	403 Forbidden    — caller is a student
//
// ─────────────────────────────────────────────────────────────────────────────
func New(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := middleware.IdentityFrom(r.Context())
		slog.Info("creating an event", slog.Int64("caller_id", caller.ID), slog.String("role", string(caller.Role)))

		var req types.CreateEventRequest
		if !decode(w, r, &req) {
			return
		}

		created, err := svc.Create(r.Context(), caller, req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("event created", slog.Int64("event_id", created.ID))
		response.WriteJSON(w, http.StatusCreated, response.OK("event created successfully", created))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetList handles GET /api/events?upcoming=true|past=true&page=&limit=
// Returns one page of events ordered by date. Paging values that do not
// parse fall back to the defaults, so this endpoint never fails validation.
// ─────────────────────────────────────────────────────────────────────────────
func GetList(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		query := events.ListQuery{
			Page:  atoiOr(q.Get("page"), 1),
			Limit: atoiOr(q.Get("limit"), events.DefaultLimit),
		}
		switch {
		case q.Get("upcoming") == "true":
			query.When = types.Upcoming
		case q.Get("past") == "true":
			query.When = types.Past
		}

		page, err := svc.List(r.Context(), query)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.OK("", page))
	}
}

// GetByID handles GET /api/events/{id}, including the registration list.
func GetByID(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.OK("", detail))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Update handles PUT /api/events/{id}
// Applies any subset of title, description, date, image_url, max_capacity
// and location. Only the organizer may update.
//
// Error responses:
//
//	400 Bad Request  — nothing to update, or capacity below registrations
//	403 Forbidden    — caller is not the organizer
//	404 Not Found    — no such event
//
// ─────────────────────────────────────────────────────────────────────────────
func Update(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		caller, _ := middleware.IdentityFrom(r.Context())
		slog.Info("updating an event", slog.Int64("event_id", id), slog.Int64("caller_id", caller.ID))

		var patch types.EventPatch
		if !decode(w, r, &patch) {
			return
		}

		updated, err := svc.Update(r.Context(), caller, id, patch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.OK("event updated successfully", updated))
	}
}

// Delete handles DELETE /api/events/{id}. Registrations go with the event.
func Delete(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		caller, _ := middleware.IdentityFrom(r.Context())
		slog.Info("deleting an event", slog.Int64("event_id", id), slog.Int64("caller_id", caller.ID))

		if err := svc.Delete(r.Context(), caller, id); err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("event deleted", slog.Int64("event_id", id))
		response.WriteJSON(w, http.StatusOK, response.OK("event deleted successfully", nil))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Register handles POST /api/events/{id}/register
//
// Request body (JSON):
//
//	{ "name": "Asha", "department": "CSE", "roll_number": "21CS10", "year": 3 }
//
// Success response (201 Created): the registration.
//
// Error responses:
//
//	400 Bad Request  — missing fields, or the event date has passed
//	403 Forbidden    — caller's role may not register for this event
//	404 Not Found    — no such event
//	409 Conflict     — code "already_registered" or "event_full"
//
// ─────────────────────────────────────────────────────────────────────────────
func Register(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		caller, _ := middleware.IdentityFrom(r.Context())

		var req types.RegistrationRequest
		if !decode(w, r, &req) {
			return
		}

		reg, err := svc.Register(r.Context(), caller, id, req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("registered for event",
			slog.Int64("event_id", id),
			slog.Int64("caller_id", caller.ID),
			slog.String("role", string(caller.Role)),
		)
		response.WriteJSON(w, http.StatusCreated, response.OK("successfully registered for event", reg))
	}
}

// MyRegistrations handles GET /api/events/my/registrations.
func MyRegistrations(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := middleware.IdentityFrom(r.Context())

		regs, err := svc.MyRegistrations(r.Context(), caller)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if regs == nil {
			regs = []types.Registration{}
		}

		response.WriteJSON(w, http.StatusOK, response.OK("", regs))
	}
}

// Health handles GET /api/health. It reports 503 when the store is
// unreachable.
func Health(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			response.WriteJSON(w, http.StatusServiceUnavailable,
				response.Fail(response.CodeInternal, "database unavailable"))
			return
		}
		response.WriteJSON(w, http.StatusOK, response.OK("ok", nil))
	}
}

// decode reads the JSON body into v. It writes the 400 itself and reports
// false when the body is empty or malformed.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		response.WriteJSON(w, http.StatusBadRequest,
			response.Fail(response.CodeValidation, "request body is empty"))
		return false
	}
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest,
			response.Fail(response.CodeValidation, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		response.WriteJSON(w, http.StatusBadRequest,
			response.Fail(response.CodeValidation, "invalid id: must be a positive integer"))
		return 0, false
	}
	return id, true
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// writeError maps a service error onto a status and failure code. Errors
// outside the service taxonomy are store failures: they are logged and
// reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, events.ErrValidation):
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(verrs))
			return
		}
		status, code = http.StatusBadRequest, response.CodeValidation
	case errors.Is(err, events.ErrForbidden):
		status, code = http.StatusForbidden, response.CodeForbidden
	case errors.Is(err, events.ErrNotFound):
		status, code = http.StatusNotFound, response.CodeNotFound
	case errors.Is(err, events.ErrAlreadyRegistered):
		status, code = http.StatusConflict, response.CodeAlreadyRegistered
	case errors.Is(err, events.ErrEventFull):
		status, code = http.StatusConflict, response.CodeEventFull
	default:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		response.WriteJSON(w, http.StatusInternalServerError,
			response.Fail(response.CodeInternal, "internal server error"))
		return
	}

	response.WriteJSON(w, status, response.Fail(code, err.Error()))
}
