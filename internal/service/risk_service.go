package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	failureWindow     = time.Hour
	velocityWindow    = 60 * time.Second
	loginFailureDays  = 7
	newAccountDays    = 30
	sessionCountLimit = 3

	anomalyHourPoints       = 20
	anomalyIPPoints         = 30
	anomalyDevicePoints     = 25
	anomalyIncidentScore    = 70
	anomalyHighSeverity     = 85
	defaultAnomalyThreshold = 50

	detectionBehavioral = "behavioral_analysis"
)

type AssessActionRequest struct {
	PrincipalID       string `json:"-"`
	ActionType        string `json:"action_type"`
	ResourceType      string `json:"resource_type"`
	ResourceID        string `json:"resource_id"`
	IPAddress         string `json:"ip_address"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type DetectAnomalyRequest struct {
	PrincipalID string `json:"user_id"`
	IPAddress   string `json:"ip_address"`
	Device      string `json:"device"`
}

// RiskService gathers history for the pure risk model and records every assessment.
type RiskService struct {
	profiles    ProfileStore
	events      *sqlite.AuditRepository
	audit       *AuditService
	velocity    VelocityTracker
	settings    *Settings
	credentials *sqlite.TwoFactorRepository
	incidents   *sqlite.IncidentRepository
	sessions    *sqlite.SessionRepository
	directory   Directory
	opener      IncidentOpener
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewRiskService(
	profiles ProfileStore,
	events *sqlite.AuditRepository,
	audit *AuditService,
	velocity VelocityTracker,
	settings *Settings,
	credentials *sqlite.TwoFactorRepository,
	incidents *sqlite.IncidentRepository,
	sessions *sqlite.SessionRepository,
	directory Directory,
	opener IncidentOpener,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *RiskService {
	return &RiskService{
		profiles:    profiles,
		events:      events,
		audit:       audit,
		velocity:    velocity,
		settings:    settings,
		credentials: credentials,
		incidents:   incidents,
		sessions:    sessions,
		directory:   directory,
		opener:      opener,
		metrics:     m,
		logger:      logger,
		now:         now,
	}
}

// AssessAction scores one attempted action. The assessment is written to the audit log
// before it is returned; a failed write fails the assessment.
func (s *RiskService) AssessAction(ctx context.Context, req AssessActionRequest) (*models.RiskAssessment, error) {
	req.ActionType = strings.TrimSpace(req.ActionType)
	if req.PrincipalID == "" || req.ActionType == "" {
		return nil, newError(ErrValidation, "Missing required fields: user_id, action_type")
	}

	now := s.now().UTC()
	failed := false
	failures, err := s.events.Count(ctx, models.AuditFilter{
		ActorID: req.PrincipalID,
		Success: &failed,
		Since:   now.Add(-failureWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count recent failures: %w", err)
	}

	actions, err := s.recentActions(ctx, req.PrincipalID, now)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, req.PrincipalID)
	if errors.Is(err, sqlite.ErrNotFound) {
		profile = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load behavior profile: %w", err)
	}

	assessment := Assess(RiskInput{
		PrincipalID:       req.PrincipalID,
		ActionType:        req.ActionType,
		At:                now,
		IPAddress:         req.IPAddress,
		DeviceFingerprint: req.DeviceFingerprint,
		Profile:           profile,
		RecentFailures:    failures,
		RecentActions:     actions,
	}, s.settings.RiskWeights(ctx), s.settings.RiskThresholds(ctx))
	if assessment.Factors == nil {
		assessment.Factors = []models.RiskFactor{}
	}

	_, err = s.audit.Record(ctx, AuditRecord{
		EventType:    models.EventRiskAssessment,
		ActorID:      req.PrincipalID,
		Action:       req.ActionType,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Metadata: map[string]interface{}{
			"risk_score":       assessment.Score,
			"risk_level":       assessment.Level,
			"risk_factors":     assessment.Factors,
			"require_mfa":      assessment.Decision.RequiresMFA,
			"require_approval": assessment.Decision.RequiresApproval,
			"blocked":          assessment.Decision.Blocked,
		},
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RiskScores.WithLabelValues(assessment.Level).Observe(float64(assessment.Score))
	if assessment.Decision.Blocked {
		s.logger.Warn("High-risk action blocked",
			util.Principal(req.PrincipalID),
			zap.String("action_type", req.ActionType),
			zap.Int("risk_score", assessment.Score))
	}
	return &assessment, nil
}

// recentActions counts this principal's actions in the last minute, this one included
// when the sliding window is available.
func (s *RiskService) recentActions(ctx context.Context, principalID string, now time.Time) (int, error) {
	if s.velocity != nil {
		n, err := s.velocity.Hit(ctx, principalID, uuid.New().String(), now, velocityWindow)
		if err == nil {
			return n, nil
		}
		s.logger.Warn("Velocity window unavailable, counting audit log", util.Principal(principalID), zap.Error(err))
	}
	n, err := s.events.Count(ctx, models.AuditFilter{ActorID: principalID, Since: now.Add(-velocityWindow)})
	if err != nil {
		return 0, fmt.Errorf("failed to count recent actions: %w", err)
	}
	return n, nil
}

// DetectAnomaly scores a login against the principal's behavior profile and opens a
// suspicious_behavior incident when the score crosses both the profile threshold and 70.
func (s *RiskService) DetectAnomaly(ctx context.Context, req DetectAnomalyRequest) (*models.AnomalyReport, error) {
	if req.PrincipalID == "" {
		return nil, newError(ErrValidation, "user_id is required")
	}
	report := &models.AnomalyReport{PrincipalID: req.PrincipalID, Anomalies: []string{}}

	profile, err := s.profiles.Get(ctx, req.PrincipalID)
	if errors.Is(err, sqlite.ErrNotFound) {
		report.Reason = "No behavior profile established"
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior profile: %w", err)
	}

	hour := s.now().In(util.Singapore).Hour()
	if !containsInt(profile.TypicalHours, hour) {
		report.Score += anomalyHourPoints
		report.Anomalies = append(report.Anomalies, "Unusual login time")
	}
	if req.IPAddress != "" && !containsString(profile.TypicalIPs, req.IPAddress) {
		report.Score += anomalyIPPoints
		report.Anomalies = append(report.Anomalies, "New IP address")
	}
	if req.Device != "" && !containsString(profile.TypicalDevices, req.Device) {
		report.Score += anomalyDevicePoints
		report.Anomalies = append(report.Anomalies, "New device")
	}

	threshold := profile.AnomalyThreshold
	if threshold <= 0 {
		threshold = defaultAnomalyThreshold
	}
	report.IsAnomaly = report.Score >= threshold
	report.ActionRequired = report.Score >= anomalyHighSeverity
	if !report.IsAnomaly || report.Score < anomalyIncidentScore || s.opener == nil {
		return report, nil
	}

	severity := models.SeverityMedium
	if report.Score >= anomalyHighSeverity {
		severity = models.SeverityHigh
	}
	created, err := s.opener.Create(ctx, CreateIncidentRequest{
		Type:               models.IncidentSuspiciousBehavior,
		Severity:           severity,
		Title:              fmt.Sprintf("Suspicious login activity for user %s", req.PrincipalID),
		Description:        fmt.Sprintf("Anomalies detected: %s. Risk score: %d", strings.Join(report.Anomalies, ", "), report.Score),
		AffectedPrincipals: []string{req.PrincipalID},
		DetectionMethod:    detectionBehavioral,
		Indicators:         report.Anomalies,
		ReporterID:         req.PrincipalID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open anomaly incident: %w", err)
	}
	report.IncidentID = created.IncidentID
	s.logger.Warn("Behavioral anomaly detected",
		util.Principal(req.PrincipalID),
		zap.Int("risk_score", report.Score),
		zap.String("incident_id", created.IncidentID))
	return report, nil
}

// AssessPrincipal profiles the account itself rather than one action.
func (s *RiskService) AssessPrincipal(ctx context.Context, principalID string) (*models.PrincipalRisk, error) {
	if principalID == "" {
		return nil, newError(ErrValidation, "user_id is required")
	}
	principal, err := s.directory.GetPrincipal(ctx, principalID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, newError(ErrNotFound, "User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	now := s.now().UTC()
	risk := &models.PrincipalRisk{PrincipalID: principalID, Factors: []models.RiskFactor{}}
	add := func(name string, value interface{}, points int) {
		risk.Score += points
		risk.Factors = append(risk.Factors, models.RiskFactor{Name: name, Value: value, Points: points})
	}

	if !principal.CreatedAt.IsZero() {
		ageDays := int(now.Sub(principal.CreatedAt).Hours() / 24)
		if ageDays < newAccountDays {
			add("new_account", ageDays, 20-ageDays/2)
		}
	}

	creds, err := s.credentials.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load two-factor status: %w", err)
	}
	enabled := false
	for _, c := range creds {
		if c.Enabled() {
			enabled = true
		}
	}
	if !enabled {
		add("no_2fa", true, 25)
	}

	active, err := s.incidents.CountActiveInvolving(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		add("active_incidents", active, minInt(active*15, 45))
	}

	failed := false
	failedLogins, err := s.events.Count(ctx, models.AuditFilter{
		EventType: models.EventLogin,
		ActorID:   principalID,
		Success:   &failed,
		Since:     now.Add(-loginFailureDays * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}
	if failedLogins > 3 {
		add("failed_logins", failedLogins, minInt(failedLogins*3, 20))
	}

	sessions, err := s.sessions.CountActive(ctx, principalID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if sessions > sessionCountLimit {
		add("multiple_sessions", sessions, 10)
	}

	switch {
	case risk.Score >= 70:
		risk.Level = models.RiskCritical
	case risk.Score >= 50:
		risk.Level = models.RiskHigh
	case risk.Score >= 30:
		risk.Level = models.RiskMedium
	default:
		risk.Level = models.RiskLow
	}
	risk.Recommendations = principalRecommendations(risk.Factors)
	return risk, nil
}

var factorRecommendations = map[string]string{
	"no_2fa":            "Enable two-factor authentication for enhanced security",
	"failed_logins":     "Review recent failed login attempts and consider changing password",
	"active_incidents":  "Review and resolve open security incidents",
	"multiple_sessions": "Review active sessions and terminate unused ones",
	"new_account":       "Complete profile verification and enable additional security features",
}

func principalRecommendations(factors []models.RiskFactor) []string {
	out := []string{}
	for _, f := range factors {
		if rec, ok := factorRecommendations[f.Name]; ok {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		out = append(out, "Your account security is in good standing")
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
