package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
)

// ErrInvalidToken reports a token that failed signature or claim checks.
var ErrInvalidToken = errors.New("invalid session token")

const maxTokenLifetime = 12 * time.Hour

// Claims names the session a bearer token belongs to. The token only proves
// identity; liveness is always checked against the Manager.
type Claims struct {
	SessionID string `json:"sid"`
	AgencyID  string `json:"agency_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	key    []byte
	issuer string
	clock  func() time.Time
}

// NewTokenIssuer creates an issuer. The clock defaults to time.Now.
func NewTokenIssuer(signingKey, issuer string, clock func() time.Time) *TokenIssuer {
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{key: []byte(signingKey), issuer: issuer, clock: clock}
}

// Issue returns a signed token for s.
func (t *TokenIssuer) Issue(s model.Session) (string, error) {
	now := t.clock()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: s.ID,
		AgencyID:  s.AgencyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ChefID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxTokenLifetime)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(t.key)
	if err != nil {
		return "", apperr.Wrap("session.Issue", err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	const op = "session.Parse"
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.key, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.WrapKind(op, model.ErrSessionExpired, err)
		}
		return nil, apperr.WrapKind(op, ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, apperr.NewKind(op, ErrInvalidToken)
	}
	return claims, nil
}
