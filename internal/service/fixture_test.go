package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"clinic-secops/internal/encryption"
	"clinic-secops/internal/geo"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/stream"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Monday 10:00 in Singapore, inside business hours.
var testEpoch = time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentNotification struct {
	PrincipalID string
	Template    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Send(_ context.Context, principalID, template string, _ map[string]interface{}) error {
	n.mu.Lock()
	n.sent = append(n.sent, sentNotification{PrincipalID: principalID, Template: template})
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Template)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	db        *sqlite.DB
	clock     *testClock
	hasher    *hashing.Hasher
	directory *sqlite.DirectoryRepository
	settings  *sqlite.SettingsRepository
	profiles  *sqlite.ProfileRepository
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	services  *ServiceFactory
}

type fixtureOption func(*Dependencies)

func withSearcher(s IncidentSearcher) fixtureOption {
	return func(d *Dependencies) { d.Searcher = s }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hasher, err := hashing.NewHasherWithPepper([]byte("test-pepper-0123456789abcdef"))
	require.NoError(t, err)
	locator, err := geo.NewLocator("")
	require.NoError(t, err)

	f := &fixture{
		ctx:       ctx,
		db:        db,
		clock:     &testClock{now: testEpoch},
		hasher:    hasher,
		directory: sqlite.NewDirectoryRepository(db),
		settings:  sqlite.NewSettingsRepository(db),
		profiles:  sqlite.NewProfileRepository(db),
		notifier:  &recordingNotifier{},
		metrics:   metrics.New(),
	}
	deps := Dependencies{
		DB:         db,
		Hasher:     hasher,
		Encryption: encryption.NewLocalEncryptionManager([]byte("test-master-key")),
		Locator:    locator,
		Publisher:  stream.NewPublisher(f.metrics),
		Metrics:    f.metrics,
		Logger:     zap.NewNop(),
		TOTPIssuer: "Clinic Test",
		Notifier:   f.notifier,
		Now:        f.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.services = NewServiceFactory(deps)
	t.Cleanup(f.services.Cleanup)
	return f
}

func (f *fixture) principal(t *testing.T, id, role string) *models.Principal {
	t.Helper()
	p := &models.Principal{
		ID:          id,
		Role:        role,
		Email:       id + "@clinic.test",
		DisplayName: id,
		CreatedAt:   testEpoch.Add(-365 * 24 * time.Hour),
	}
	require.NoError(t, f.directory.UpsertPrincipal(f.ctx, p))
	return p
}

func (f *fixture) responder(t *testing.T, id string) *models.Principal {
	t.Helper()
	p := &models.Principal{
		ID:         id,
		Role:       models.RoleAdmin,
		Email:      id + "@clinic.test",
		Department: "security",
		CreatedAt:  testEpoch.Add(-365 * 24 * time.Hour),
	}
	require.NoError(t, f.directory.UpsertPrincipal(f.ctx, p))
	return p
}

func (f *fixture) consent(t *testing.T, patientID, consentType string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.directory.UpsertConsent(f.ctx, &models.Consent{
		PatientID:   patientID,
		ConsentType: consentType,
		Granted:     true,
		ExpiresAt:   expiresAt,
		CreatedAt:   testEpoch.Add(-24 * time.Hour),
	}))
}

func (f *fixture) session(t *testing.T, principalID, role string) *CreatedSession {
	t.Helper()
	created, err := f.services.Sessions().CreateSession(f.ctx, CreateSessionRequest{
		PrincipalID: principalID,
		Role:        role,
		IPAddress:   "203.0.113.10",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) auditEvents(t *testing.T, eventType string) []*models.AuditEvent {
	t.Helper()
	events, err := f.services.Audit().Query(f.ctx, models.AuditFilter{EventType: eventType, Limit: 100})
	require.NoError(t, err)
	return events
}
