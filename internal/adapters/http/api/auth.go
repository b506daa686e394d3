package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/apperr"
)

// ChefHeader carries the chef id authenticated by the fronting gateway.
const ChefHeader = "X-Chef-ID"

// Sessions is the supervisory session registry. *session.Manager satisfies it.
type Sessions interface {
	Start(ctx context.Context, chefID, agencyID string) (*session.Context, error)
	Get(id string) (*session.Context, error)
	Touch(ctx context.Context, id string) (time.Duration, error)
	Logout(ctx context.Context, id string) error
}

// Tokens signs and verifies session bearer tokens. *session.TokenIssuer satisfies it.
type Tokens interface {
	Issue(s model.Session) (string, error)
	Parse(raw string) (*session.Claims, error)
}

// ChefDirectory resolves the agency a chef is in charge of.
type ChefDirectory interface {
	Chef(ctx context.Context, id string) (model.Chef, error)
}

type ctxKey int

const sessionKey ctxKey = iota

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

// claims parses the bearer token of r.
func (s *Server) claims(r *http.Request) (*session.Claims, error) {
	const op = "api.claims"
	raw, ok := bearer(r)
	if !ok {
		return nil, apperr.NewKind(op, ErrUnauthorized)
	}
	if s.deps.Tokens == nil {
		return nil, apperr.NewKind(op, ErrUnauthorized)
	}
	return s.deps.Tokens.Parse(raw)
}

// session resolves the live session named by the bearer token of r.
func (s *Server) session(r *http.Request) (*session.Context, error) {
	c, err := s.claims(r)
	if err != nil {
		return nil, err
	}
	return s.deps.Sessions.Get(c.SessionID)
}

// requireAgencySession lets the request through only under a live session
// in charge of the {agency} in the path.
func (s *Server) requireAgencySession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.session(r)
		if err != nil {
			s.fail(r.Context(), w, err)
			return
		}
		if sc.AgencyID() != chi.URLParam(r, "agency") {
			s.fail(r.Context(), w, apperr.NewKind("api.requireAgencySession", ErrForbidden))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sc)))
	})
}

// requireSession lets the request through under any live session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.session(r)
		if err != nil {
			s.fail(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sc)))
	})
}

func sessionFrom(ctx context.Context) *session.Context {
	sc, _ := ctx.Value(sessionKey).(*session.Context)
	return sc
}
