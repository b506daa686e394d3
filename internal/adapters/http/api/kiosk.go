package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmuci/pointage/internal/domain/clockin"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/apperr"
)

// Kiosks hands out the state machine of a kiosk. *clockin.Registry satisfies it.
type Kiosks interface {
	Get(kioskID string) *clockin.Machine
}

type identifyRequest struct {
	Matricule string `json:"matricule"`
}

type verifyRequest struct {
	Capture []byte `json:"capture"`
}

type signRequest struct {
	Signature []byte `json:"signature"`
}

type autoCommitRequest struct {
	Seconds int  `json:"seconds"`
	Cancel  bool `json:"cancel"`
}

type kioskErrorResponse struct {
	errorResponse
	View clockin.View `json:"view"`
}

func (s *Server) kiosk(r *http.Request) *clockin.Machine {
	return s.deps.Kiosks.Get(chi.URLParam(r, "kiosk"))
}

// reply writes the view, or the error together with the view the kiosk
// is left in.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, v clockin.View, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	status, code, ok := classify(err)
	if !ok {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, status, kioskErrorResponse{errorResponse{Code: code, Message: err.Error()}, v})
}

// handleKioskView handles GET /kiosks/{kiosk}.
func (s *Server) handleKioskView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.kiosk(r).Snapshot())
}

// handleIdentify handles POST /kiosks/{kiosk}/identify. The agency comes
// from the bearer session when one is presented, else from centralised
// clocking.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	const op = "api.identify"
	var req identifyRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	var sc *session.Context
	if _, ok := bearer(r); ok {
		var err error
		if sc, err = s.session(r); err != nil {
			s.fail(r.Context(), w, err)
			return
		}
	}
	scope, err := clockin.ScopeFor(sc, s.deps.Settings.Current())
	if err != nil {
		s.fail(r.Context(), w, apperr.Wrap(op, err))
		return
	}
	v, err := s.kiosk(r).Identify(r.Context(), scope, req.Matricule)
	s.reply(w, r, v, err)
}

// handleVerify handles POST /kiosks/{kiosk}/verify.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, "api.verify", &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	v, err := s.kiosk(r).Verify(r.Context(), req.Capture)
	s.reply(w, r, v, err)
}

// handleSign handles POST /kiosks/{kiosk}/sign.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decode(r, "api.sign", &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	v, err := s.kiosk(r).Sign(r.Context(), req.Signature)
	s.reply(w, r, v, err)
}

// handleConfirm handles POST /kiosks/{kiosk}/confirm.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	v, err := s.kiosk(r).Confirm(r.Context())
	s.reply(w, r, v, err)
}

// handleCommit handles POST /kiosks/{kiosk}/commit.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	m := s.kiosk(r)
	res, err := m.Commit(r.Context())
	if err != nil {
		s.reply(w, r, m.Snapshot(), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleAutoCommit handles POST /kiosks/{kiosk}/auto-commit.
func (s *Server) handleAutoCommit(w http.ResponseWriter, r *http.Request) {
	var req autoCommitRequest
	if err := decode(r, "api.auto_commit", &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	m := s.kiosk(r)
	if req.Cancel {
		writeJSON(w, http.StatusOK, m.CancelAutoCommit())
		return
	}
	after := s.deps.AutoCommitDelay
	if req.Seconds > 0 {
		after = time.Duration(req.Seconds) * time.Second
	}
	v, err := m.ScheduleAutoCommit(after)
	s.reply(w, r, v, err)
}

// handleReset handles POST /kiosks/{kiosk}/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.kiosk(r).Reset())
}
