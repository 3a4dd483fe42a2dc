package service

import (
	"context"
	"sync"
	"time"

	"clinic-secops/internal/models"
)

// Directory is the identity record store. It is consulted, never owned, by this service.
type Directory interface {
	GetPrincipal(ctx context.Context, id string) (*models.Principal, error)
	FindResponder(ctx context.Context, role, department string) (*models.Principal, error)
	LockPrincipal(ctx context.Context, id, reason string, now time.Time) (bool, error)
	ResolveCredential(ctx context.Context, tokenHash string, now time.Time) (*models.Principal, error)
	HasTreatingRelationship(ctx context.Context, doctorID, patientID string) (bool, error)
	GetConsent(ctx context.Context, patientID, consentType string) (*models.Consent, error)
	ListConsents(ctx context.Context, patientID string) ([]*models.Consent, error)
	ConsentedPatients(ctx context.Context, patientIDs []string, consentType string, now time.Time) (map[string]bool, error)
	CountExpiredConsents(ctx context.Context, now time.Time) (int, error)
}

// Notifier delivers templated messages. Callers never wait on it.
type Notifier interface {
	Send(ctx context.Context, principalID, template string, data map[string]interface{}) error
}

type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

type ProfileStore interface {
	Get(ctx context.Context, principalID string) (*models.BehaviorProfile, error)
}

// VelocityTracker counts a principal's actions inside a sliding window, including this one.
type VelocityTracker interface {
	Hit(ctx context.Context, principalID, member string, at time.Time, window time.Duration) (int, error)
}

// ReplayGuard claims a key once per ttl; a second claim inside ttl returns false.
type ReplayGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// IncidentSearcher returns ids of incidents matching free text, best match first.
type IncidentSearcher interface {
	SearchIncidents(ctx context.Context, text string, limit int) ([]string, error)
}

// AuditAnalytics serves aggregate audit counts from an analytics store.
type AuditAnalytics interface {
	AuditCounts(ctx context.Context, since time.Time) (total int, failedLogins int, err error)
}

// IncidentOpener is how the audit log raises incidents for high-risk events.
type IncidentOpener interface {
	Create(ctx context.Context, req CreateIncidentRequest) (*CreatedIncident, error)
}

// MemoryReplayGuard is the single-process ReplayGuard used when Redis is not configured.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

func NewMemoryReplayGuard(now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{claimed: make(map[string]time.Time), now: now}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, until := range g.claimed {
		if !now.Before(until) {
			delete(g.claimed, k)
		}
	}
	if _, taken := g.claimed[key]; taken {
		return false, nil
	}
	g.claimed[key] = now.Add(ttl)
	return true, nil
}
