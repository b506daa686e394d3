// Package api exposes the clock-in, planning, compliance and session
// operations over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
)

// Dependencies bundles what the handlers call. Nil members disable the
// routes that need them.
type Dependencies struct {
	Kiosks     Kiosks
	Sessions   Sessions
	Tokens     Tokens
	Chefs      ChefDirectory
	Ledger     Ledger
	Compliance ComplianceReporter
	Planner    Planner
	Feed       Feed
	Settings   SettingsStore
	Health     Pinger
	Stats      StatsProvider

	// AutoCommitDelay is the countdown armed by POST /kiosks/{kiosk}/auto-commit.
	AutoCommitDelay time.Duration
	Location        *time.Location
	Clock           func() time.Time
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps Dependencies
	log  logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, log logger.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &Server{deps: deps, log: log}
}

// Routes builds the router. Callers may mount further routes on it.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler())
	r.Get("/stats", s.handleStats)
	r.Get("/notifications", s.handleNotifications)

	r.Route("/kiosks/{kiosk}", func(r chi.Router) {
		r.Get("/", s.handleKioskView)
		r.Post("/identify", s.handleIdentify)
		r.Post("/verify", s.handleVerify)
		r.Post("/sign", s.handleSign)
		r.Post("/confirm", s.handleConfirm)
		r.Post("/commit", s.handleCommit)
		r.Post("/auto-commit", s.handleAutoCommit)
		r.Post("/reset", s.handleReset)
	})

	r.Get("/attendance", s.handleAttendance)
	r.Get("/compliance", s.handleCompliance)
	r.Get("/compliance.xlsx", s.handleComplianceXLSX)

	r.Route("/agencies/{agency}", func(r chi.Router) {
		r.Get("/today", s.handleToday)
		r.Get("/available", s.handleAvailable)
		r.Get("/assignments", s.handleListAssignments)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAgencySession)
			r.Post("/assignments", s.handleAddAssignment)
			r.Post("/assignments/copy", s.handleCopyPrevious)
			r.Patch("/assignments/{assignment}", s.handleSubstitute)
			r.Delete("/assignments/{assignment}", s.handleRemoveAssignment)
		})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Post("/activity", s.handleSessionActivity)
		r.Get("/remaining", s.handleSessionRemaining)
		r.Delete("/", s.handleLogout)
	})

	r.Get("/settings", s.handleGetSettings)
	r.With(s.requireSession).Put("/settings", s.handlePutSettings)
	return r
}

func (s *Server) now() time.Time { return s.deps.Clock().In(s.deps.Location) }

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps an error kind to its HTTP status and stable code. The
// first matching kind wins.
var statusFor = []struct {
	kind   error
	status int
	code   string
}{
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{config.ErrInvalidConfig, http.StatusBadRequest, "invalid_settings"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{session.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{model.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{model.ErrUnknownMatricule, http.StatusNotFound, "unknown_matricule"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrDuplicateAttendance, http.StatusConflict, "duplicate_attendance"},
	{model.ErrDuplicateAssignment, http.StatusConflict, "duplicate_assignment"},
	{model.ErrNotScheduledToday, http.StatusUnprocessableEntity, "not_scheduled_today"},
	{model.ErrVerificationFailed, http.StatusUnprocessableEntity, "verification_failed"},
	{model.ErrSignatureRequired, http.StatusUnprocessableEntity, "signature_required"},
	{model.ErrCommitNotAllowed, http.StatusUnprocessableEntity, "commit_not_allowed"},
	{model.ErrSlotChanged, http.StatusUnprocessableEntity, "slot_changed"},
	{model.ErrEmployeeUnavailable, http.StatusUnprocessableEntity, "employee_unavailable"},
	{model.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{model.ErrNoActiveAgency, http.StatusUnprocessableEntity, "no_active_agency"},
	{model.ErrLedgerUnavailable, http.StatusServiceUnavailable, "ledger_unavailable"},
}

func classify(err error) (status int, code string, ok bool) {
	for _, m := range statusFor {
		if errors.Is(err, m.kind) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, "internal_error", false
}

// fail writes err with the status of its kind. Unknown errors are logged
// and reported as 500.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if status, code, ok := classify(err); ok {
		writeError(w, status, code, err)
		return
	}
	s.log.Error(ctx, "request failed", logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}

// decode reads a JSON body into v. An empty body, announced or chunked,
// leaves v untouched.
func decode(r *http.Request, op string, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
