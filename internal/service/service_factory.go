package service

import (
	"time"

	"clinic-secops/internal/encryption"
	"clinic-secops/internal/geo"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/stream"

	"go.uber.org/zap"
)

// Dependencies are the shared infrastructure the services are built from. The optional
// collaborators (Velocity, Replay, Searcher, Analytics, Notifier) may be nil.
type Dependencies struct {
	DB         *sqlite.DB
	Hasher     *hashing.Hasher
	Encryption *encryption.EncryptionManager
	Locator    *geo.Locator
	Publisher  *stream.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	TOTPIssuer string

	Notifier  Notifier
	Velocity  VelocityTracker
	Replay    ReplayGuard
	Searcher  IncidentSearcher
	Analytics AuditAnalytics

	Now func() time.Time
}

// ServiceFactory creates and holds one instance of every service
type ServiceFactory struct {
	publisher  *stream.Publisher
	logger     *zap.Logger
	audit      *AuditService
	sessions   *SessionService
	twoFactor  *TwoFactorService
	risk       *RiskService
	incidents  *IncidentService
	compliance *ComplianceService
	dashboard  *DashboardService
	identity   *IdentityService
}

// NewServiceFactory builds every service up front and closes the audit to incident loop.
func NewServiceFactory(deps Dependencies) *ServiceFactory {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	replay := deps.Replay
	if replay == nil {
		replay = NewMemoryReplayGuard(now)
	}

	sessionRepo := sqlite.NewSessionRepository(deps.DB)
	credentialRepo := sqlite.NewTwoFactorRepository(deps.DB)
	incidentRepo := sqlite.NewIncidentRepository(deps.DB)
	auditRepo := sqlite.NewAuditRepository(deps.DB)
	directory := sqlite.NewDirectoryRepository(deps.DB)
	profiles := sqlite.NewProfileRepository(deps.DB)
	settings := NewSettings(sqlite.NewSettingsRepository(deps.DB), deps.Logger.Named("settings"))

	f := &ServiceFactory{publisher: deps.Publisher, logger: deps.Logger}
	f.audit = NewAuditService(auditRepo, deps.Locator, settings, deps.Publisher, deps.Metrics,
		deps.Logger.Named("audit"), now)
	f.sessions = NewSessionService(sessionRepo, settings, deps.Hasher, deps.Locator, f.audit, deps.Metrics,
		deps.Logger.Named("sessions"), now)
	f.twoFactor = NewTwoFactorService(credentialRepo, directory, deps.Encryption, deps.Hasher, replay, f.audit,
		deps.TOTPIssuer, deps.Metrics, deps.Logger.Named("two_factor"), now)
	f.incidents = NewIncidentService(incidentRepo, directory, f.sessions, f.audit, deps.Notifier, deps.Publisher,
		deps.Searcher, settings, deps.Metrics, deps.Logger.Named("incidents"), now)
	f.risk = NewRiskService(profiles, auditRepo, f.audit, deps.Velocity, settings, credentialRepo, incidentRepo,
		sessionRepo, directory, f.incidents, deps.Metrics, deps.Logger.Named("risk"), now)
	f.compliance = NewComplianceService(directory, auditRepo, f.audit, deps.Metrics,
		deps.Logger.Named("compliance"), now)
	f.dashboard = NewDashboardService(sessionRepo, incidentRepo, auditRepo, deps.Analytics,
		deps.Logger.Named("dashboard"), now)
	f.identity = NewIdentityService(f.sessions, directory, deps.Hasher, now)

	f.audit.SetIncidentOpener(f.incidents)
	return f
}

func (f *ServiceFactory) Audit() *AuditService           { return f.audit }
func (f *ServiceFactory) Sessions() *SessionService      { return f.sessions }
func (f *ServiceFactory) TwoFactor() *TwoFactorService   { return f.twoFactor }
func (f *ServiceFactory) Risk() *RiskService             { return f.risk }
func (f *ServiceFactory) Incidents() *IncidentService    { return f.incidents }
func (f *ServiceFactory) Compliance() *ComplianceService { return f.compliance }
func (f *ServiceFactory) Dashboard() *DashboardService   { return f.dashboard }
func (f *ServiceFactory) Identity() *IdentityService     { return f.identity }

// Cleanup drains pending stream deliveries.
func (f *ServiceFactory) Cleanup() {
	if f.publisher != nil {
		f.publisher.Close()
		f.logger.Info("Stream publisher drained")
	}
}
