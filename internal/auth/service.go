// Package auth implements credential issuance and the server-side session
// lifecycle: registration, login, and logout. It owns the invariant that a
// principal has at most one live session marker, by always overwriting on
// issue and deleting on logout.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse/internal/authz"
	"gatehouse/internal/principal"
	"gatehouse/internal/sentinel"
	"gatehouse/internal/token"
	domainerrors "gatehouse/pkg/domain-errors"
)

// SessionWriter is the slice of the session store this service mutates.
type SessionWriter interface {
	SetSession(ctx context.Context, principalKey, credential string, ttl time.Duration) error
	DeleteSession(ctx context.Context, principalKey string) error
}

// Service issues credentials and maintains session markers.
type Service struct {
	principals principal.Store
	sessions   SessionWriter
	tokens     *token.Service
	logger     *slog.Logger
}

// NewService creates the auth service.
func NewService(principals principal.Store, sessions SessionWriter, tokens *token.Service, logger *slog.Logger) *Service {
	return &Service{
		principals: principals,
		sessions:   sessions,
		tokens:     tokens,
		logger:     logger,
	}
}

// RegisterParams carries the caller-supplied registration fields.
type RegisterParams struct {
	Email    string
	Username string
	Password string
}

// Register creates a principal with the user role, then issues a credential
// and opens its session, so a fresh account is immediately signed in.
func (s *Service) Register(ctx context.Context, params RegisterParams) (string, *principal.Principal, error) {
	if params.Email == "" || params.Username == "" || params.Password == "" {
		return "", nil, domainerrors.New(domainerrors.CodeValidation, "email, username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "hash password")
	}

	created, err := s.principals.Create(ctx, &principal.Principal{
		Email:        params.Email,
		Username:     params.Username,
		PasswordHash: string(hash),
		Role:         authz.RoleUser,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return "", nil, domainerrors.New(domainerrors.CodeValidation, "username or email already taken")
		}
		return "", nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create principal")
	}

	credential, err := s.openSession(ctx, created)
	if err != nil {
		return "", nil, err
	}

	s.logger.InfoContext(ctx, "principal registered", "principal_id", created.ID)
	return credential, created, nil
}

// Login verifies the password and issues a fresh credential, overwriting any
// existing session marker for the principal.
func (s *Service) Login(ctx context.Context, username, password string) (string, *principal.Principal, error) {
	caller, err := s.principals.ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", nil, domainerrors.New(domainerrors.CodeNotFound, "user not found")
		}
		return "", nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "resolve principal")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(caller.PasswordHash), []byte(password)); err != nil {
		return "", nil, domainerrors.New(domainerrors.CodeValidation, "password is not correct")
	}

	credential, err := s.openSession(ctx, caller)
	if err != nil {
		return "", nil, err
	}

	s.logger.InfoContext(ctx, "principal logged in", "principal_id", caller.ID)
	return credential, caller, nil
}

// Logout deletes the session marker. Still-unexpired credentials for the
// principal stop being accepted until the next login.
func (s *Service) Logout(ctx context.Context, caller *principal.Principal) error {
	if err := s.sessions.DeleteSession(ctx, caller.Email); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "delete session")
	}

	s.logger.InfoContext(ctx, "principal logged out", "principal_id", caller.ID)
	return nil
}

// openSession issues a credential and writes the session marker with a TTL
// equal to the credential validity window.
func (s *Service) openSession(ctx context.Context, caller *principal.Principal) (string, error) {
	credential, err := s.tokens.Issue(caller.ID, string(caller.Role))
	if err != nil {
		return "", err
	}

	if err := s.sessions.SetSession(ctx, caller.Email, credential, s.tokens.Validity()); err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "store session")
	}

	return credential, nil
}
