package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/hashing"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
)

// Identity is the authenticated caller of one request. SessionID is empty when the bearer
// was a directory credential rather than a session token.
type Identity struct {
	Principal *models.Principal
	SessionID string
}

// IdentityService resolves bearer tokens: session tokens first, then directory credentials.
type IdentityService struct {
	sessions  *SessionService
	directory Directory
	hasher    *hashing.Hasher
	now       func() time.Time
}

func NewIdentityService(sessions *SessionService, directory Directory, hasher *hashing.Hasher, now func() time.Time) *IdentityService {
	return &IdentityService{sessions: sessions, directory: directory, hasher: hasher, now: now}
}

func (s *IdentityService) Authenticate(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrUnauthorized, "Missing authorization header")
	}

	session, err := s.sessions.touch(ctx, token)
	switch {
	case err == nil:
		principal, err := s.directory.GetPrincipal(ctx, session.PrincipalID)
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, newError(ErrUnauthorized, "Invalid authorization token")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load principal: %w", err)
		}
		return s.identity(principal, session.ID)
	case errors.Is(err, sqlite.ErrSessionExpired):
		return nil, newError(ErrUnauthorized, "Session expired")
	case errors.Is(err, sqlite.ErrSessionInactive):
		return nil, newError(ErrUnauthorized, "Invalid session")
	case !errors.Is(err, sqlite.ErrNotFound):
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	principal, err := s.directory.ResolveCredential(ctx, s.hasher.Digest(hashing.ContextCredential, token), s.now().UTC())
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, newError(ErrUnauthorized, "Invalid authorization token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}
	return s.identity(principal, "")
}

func (s *IdentityService) identity(principal *models.Principal, sessionID string) (*Identity, error) {
	if principal.Locked {
		return nil, newError(ErrForbidden, "Account is locked")
	}
	return &Identity{Principal: principal, SessionID: sessionID}, nil
}
