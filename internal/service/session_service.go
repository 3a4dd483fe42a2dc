package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/geo"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionTokenBytes = 32

type CreateSessionRequest struct {
	PrincipalID       string `json:"-"`
	Role              string `json:"-"`
	IPAddress         string `json:"ip_address"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// CreatedSession carries the bearer token; it is never retrievable again.
type CreatedSession struct {
	SessionID          string    `json:"session_id"`
	Token              string    `json:"session_token"`
	ExpiresAt          time.Time `json:"expires_at"`
	TerminatedSessions int       `json:"terminated_sessions"`
}

type SessionLimit struct {
	ActiveSessions int  `json:"active_sessions"`
	MaxSessions    int  `json:"max_sessions"`
	AtLimit        bool `json:"at_limit"`
}

// SessionService owns session rows: creation under the per-role cap, idle expiry and
// termination.
type SessionService struct {
	sessions *sqlite.SessionRepository
	settings *Settings
	hasher   *hashing.Hasher
	locator  *geo.Locator
	audit    *AuditService
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(
	sessions *sqlite.SessionRepository,
	settings *Settings,
	hasher *hashing.Hasher,
	locator *geo.Locator,
	audit *AuditService,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		settings: settings,
		hasher:   hasher,
		locator:  locator,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		now:      now,
	}
}

// CreateSession inserts a session, evicting the least recently active ones when the
// principal is at the cap for its role.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	if req.PrincipalID == "" {
		return nil, newError(ErrValidation, "principal id is required")
	}
	if req.Role == "" {
		return nil, newError(ErrValidation, "role is required")
	}

	timeout, maxConcurrent := s.settings.SessionPolicy(ctx, req.Role)
	token, err := hashing.NewToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now().UTC()
	client := util.ParseUserAgent(req.UserAgent)
	session := &models.Session{
		ID:                uuid.New().String(),
		PrincipalID:       req.PrincipalID,
		Role:              req.Role,
		TokenHash:         s.hasher.Digest(hashing.ContextSessionToken, token),
		IPAddress:         req.IPAddress,
		Browser:           client.Browser,
		OS:                client.OS,
		DeviceType:        client.Device,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          s.locator.Lookup(req.IPAddress).String(),
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(timeout),
		IdleTimeout:       timeout,
	}

	evicted, err := s.sessions.CreateWithCap(ctx, session, maxConcurrent, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.SessionsCreated.Inc()
	s.metrics.SessionsEvicted.Add(float64(len(evicted)))

	evictedIDs := make([]string, 0, len(evicted))
	for _, e := range evicted {
		evictedIDs = append(evictedIDs, e.ID)
	}
	s.logger.Info("Session created",
		util.Principal(req.PrincipalID),
		zap.String("session_id", session.ID),
		zap.Strings("evicted", evictedIDs))
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventSessionCreated,
		ActorID:      req.PrincipalID,
		Action:       "create_session",
		ResourceType: ResourceSession,
		ResourceID:   session.ID,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Metadata: map[string]interface{}{
			"max_sessions":     maxConcurrent,
			"evicted_sessions": evictedIDs,
		},
	})

	return &CreatedSession{
		SessionID:          session.ID,
		Token:              token,
		ExpiresAt:          session.ExpiresAt,
		TerminatedSessions: len(evicted),
	}, nil
}

// ListActiveSessions returns redacted views, most recently active first.
func (s *SessionService) ListActiveSessions(ctx context.Context, principalID, currentSessionID string) ([]models.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, principalID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.View(currentSessionID))
	}
	return views, nil
}

// TerminateSession deactivates one of the principal's sessions. Terminating an already
// inactive session succeeds without change.
func (s *SessionService) TerminateSession(ctx context.Context, principalID, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, newError(ErrValidation, "session_id is required")
	}
	changed, err := s.sessions.Terminate(ctx, principalID, sessionID, models.ReasonUserTerminated, s.now().UTC())
	if errors.Is(err, sqlite.ErrNotFound) {
		return false, newError(ErrNotFound, "Session not found")
	}
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	if changed {
		s.audit.recordQuietly(ctx, AuditRecord{
			EventType:    models.EventSessionTerminated,
			ActorID:      principalID,
			Action:       "terminate_session",
			ResourceType: ResourceSession,
			ResourceID:   sessionID,
		})
	}
	return changed, nil
}

func (s *SessionService) TerminateAllOtherSessions(ctx context.Context, principalID, currentSessionID string) (int, error) {
	n, err := s.sessions.TerminateOthers(ctx, principalID, currentSessionID, models.ReasonOthersTerminated, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	if n > 0 {
		s.audit.recordQuietly(ctx, AuditRecord{
			EventType:    models.EventSessionTerminated,
			ActorID:      principalID,
			Action:       "terminate_all_other_sessions",
			ResourceType: ResourceSession,
			ResourceID:   currentSessionID,
			Metadata:     map[string]interface{}{"terminated_count": n},
		})
	}
	return int(n), nil
}

// TerminateAllForPrincipal is used by containment; it does not audit on its own.
func (s *SessionService) TerminateAllForPrincipal(ctx context.Context, principalID, reason string) (int, error) {
	n, err := s.sessions.TerminateAll(ctx, principalID, reason, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions for %s: %w", principalID, err)
	}
	return int(n), nil
}

// Touch authenticates a bearer session token and slides its idle expiry.
func (s *SessionService) Touch(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.touch(ctx, token)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, sqlite.ErrSessionExpired):
		return nil, newError(ErrUnauthorized, "Session expired")
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, sqlite.ErrSessionInactive):
		return nil, newError(ErrUnauthorized, "Invalid session")
	default:
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
}

func (s *SessionService) touch(ctx context.Context, token string) (*models.Session, error) {
	return s.sessions.Touch(ctx, s.hasher.Digest(hashing.ContextSessionToken, token), s.now().UTC())
}

func (s *SessionService) CheckSessionLimit(ctx context.Context, principalID, role string) (*SessionLimit, error) {
	_, maxConcurrent := s.settings.SessionPolicy(ctx, role)
	active, err := s.sessions.CountActive(ctx, principalID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	return &SessionLimit{ActiveSessions: active, MaxSessions: maxConcurrent, AtLimit: active >= maxConcurrent}, nil
}

// SweepExpired deactivates expired rows. Expiry is already enforced lazily.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("Expired sessions swept", zap.Int64("count", n))
	}
	return n, nil
}
