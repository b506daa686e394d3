package api

import (
	"net/http"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/apperr"
)

type startSessionRequest struct {
	// AgencyID defaults to the chef's own agency.
	AgencyID string `json:"agency_id"`
}

type sessionResponse struct {
	Token            string        `json:"token"`
	Session          model.Session `json:"session"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RemainingSeconds int           `json:"remaining_seconds"`
}

type remainingResponse struct {
	SessionID        string `json:"session_id"`
	Remaining        string `json:"remaining"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func remaining(id string, d time.Duration) remainingResponse {
	return remainingResponse{SessionID: id, Remaining: session.FormatRemaining(d), RemainingSeconds: int(d / time.Second)}
}

// handleStartSession handles POST /sessions for the chef named in ChefHeader.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	chefID := r.Header.Get(ChefHeader)
	if chefID == "" {
		s.fail(r.Context(), w, apperr.NewKind(op, ErrUnauthorized))
		return
	}
	var req startSessionRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if req.AgencyID == "" {
		chef, err := s.deps.Chefs.Chef(r.Context(), chefID)
		if err != nil {
			s.fail(r.Context(), w, apperr.Wrap(op, err))
			return
		}
		req.AgencyID = chef.AgencyID
	}

	sc, err := s.deps.Sessions.Start(r.Context(), chefID, req.AgencyID)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	token, err := s.deps.Tokens.Issue(sc.Session)
	if err != nil {
		s.fail(r.Context(), w, apperr.Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:            token,
		Session:          sc.Session,
		ExpiresAt:        sc.Watchdog().Deadline(),
		RemainingSeconds: int(sc.Remaining() / time.Second),
	})
}

// handleSessionActivity handles POST /sessions/activity and resets the
// idle deadline.
func (s *Server) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	d, err := s.deps.Sessions.Touch(r.Context(), c.SessionID)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, remaining(c.SessionID, d))
}

// handleSessionRemaining handles GET /sessions/remaining without counting
// as activity.
func (s *Server) handleSessionRemaining(w http.ResponseWriter, r *http.Request) {
	sc, err := s.session(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, remaining(sc.Session.ID, sc.Remaining()))
}

// handleLogout handles DELETE /sessions.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if err := s.deps.Sessions.Logout(r.Context(), c.SessionID); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
