package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Ledger is the server-side issued-at record backing early revocation.
// A token is only honored while its member's ledger entry is present
// and fresh, even if the signature itself is still within its window.
type Ledger interface {
	MarkIssued(memberID string, at time.Time)
	IssuedAt(memberID string) (time.Time, bool)
	Revoke(memberID string)
	ExpireIssued(cutoff time.Time) int
	HasMember(memberID string) bool
}

type claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Service mints and checks signed, time-limited member tokens.
type Service struct {
	secret []byte
	expire time.Duration
	ledger Ledger
	now    func() time.Time
}

func NewService(secret string, expire time.Duration, ledger Ledger) *Service {
	return &Service{
		secret: []byte(secret),
		expire: expire,
		ledger: ledger,
		now:    time.Now,
	}
}

// Expire returns the configured token lifetime.
func (s *Service) Expire() time.Duration {
	return s.expire
}

// Issue records the issue time in the ledger and returns a signed token
// embedding the member id and that time. Re-issuing for the same member
// replaces the ledger entry, so only the newest token stays valid.
func (s *Service) Issue(memberID string) (string, error) {
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UID: memberID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	})

	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", err
	}

	s.ledger.MarkIssued(memberID, now)
	return signed, nil
}

// Verify returns the member id a token was issued for. It fails unless
// the signature checks out, the embedded issue time is within the
// expiry window, the member is still in the group, and the ledger entry
// for that member is present and itself within the window.
func (s *Service) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.UID == "" || c.IssuedAt == nil {
		return "", ErrInvalidToken
	}

	now := s.now()
	if now.Sub(c.IssuedAt.Time) > s.expire {
		return "", ErrInvalidToken
	}
	if !s.ledger.HasMember(c.UID) {
		return "", ErrInvalidToken
	}
	issued, ok := s.ledger.IssuedAt(c.UID)
	if !ok || now.Sub(issued) > s.expire {
		return "", ErrInvalidToken
	}

	return c.UID, nil
}

// Revoke invalidates a member's outstanding token.
func (s *Service) Revoke(memberID string) {
	s.ledger.Revoke(memberID)
}

// GC drops expired ledger entries and returns how many were removed.
func (s *Service) GC(now time.Time) int {
	return s.ledger.ExpireIssued(now.Add(-s.expire))
}
