// Package token issues and verifies the signed, time-bound credentials the
// gate pipeline accepts. Credentials are stateless: signature and expiry are
// checked without any server-side record; revocation is the session marker's
// concern.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainerrors "gatehouse/pkg/domain-errors"
)

// Claims carries the identity a credential proves.
type Claims struct {
	PrincipalID int64  `json:"principal_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies credentials with a server-held secret.
type Service struct {
	secret   []byte
	method   jwt.SigningMethod
	validity time.Duration
}

// NewService builds a token service for the given secret, signing algorithm
// identifier (e.g. "HS256"), and credential validity duration.
func NewService(secret, algorithm string, validity time.Duration) (*Service, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing algorithm %q is not an HMAC method", algorithm)
	}

	return &Service{
		secret:   []byte(secret),
		method:   method,
		validity: validity,
	}, nil
}

// Validity returns the configured credential validity window. Session markers
// are written with the same TTL.
func (s *Service) Validity() time.Duration {
	return s.validity
}

// Issue creates a signed credential embedding the principal's id and role,
// valid from now until now + the configured validity.
func (s *Service) Issue(principalID int64, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		PrincipalID: principalID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "sign credential")
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded claims.
//
// Expired credentials and every other verification failure (bad signature,
// bad structure, wrong algorithm) both surface as unauthorized to clients;
// the distinct codes exist for logging only.
func (s *Service) Verify(credential string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainerrors.New(domainerrors.CodeExpiredCredential, "credential expired")
		}
		return nil, domainerrors.New(domainerrors.CodeMalformedCredential, "credential not valid")
	}
	if !parsed.Valid {
		return nil, domainerrors.New(domainerrors.CodeMalformedCredential, "credential not valid")
	}

	return claims, nil
}

// ParseAuthHeader splits a "<scheme> <credential>" header value and returns
// the credential text. The scheme is split off, not cryptographically
// checked. Any shape other than exactly two space-separated parts fails as
// malformed.
func ParseAuthHeader(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", domainerrors.New(domainerrors.CodeMalformedCredential, "invalid authorization header")
	}
	return parts[1], nil
}
