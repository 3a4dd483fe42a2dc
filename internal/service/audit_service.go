package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/geo"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/stream"
	"clinic-secops/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ResourceIncident      = "incident"
	ResourceSession       = "session"
	ResourceTwoFactor     = "two_factor"
	ResourceMedicalRecord = "medical_record"
	ResourcePrescription  = "prescription"
	ResourcePatientData   = "patient_data"
)

const maxExportRecords = 10000

var eventRiskWeights = map[string]int{
	models.EventLogin:               5,
	models.EventDataAccess:          15,
	models.EventDataExport:          40,
	models.EventUserCreation:        25,
	models.EventPermissionChange:    35,
	models.EventMedicalRecordAccess: 20,
	models.EventPrescriptionCreate:  30,
	models.EventDataDeletion:        45,
}

// Events raised by incident handling never raise further incidents.
var alertExempt = map[string]bool{
	models.EventIncidentCreated:   true,
	models.EventIncidentUpdated:   true,
	models.EventAutomatedResponse: true,
}

// AuditRecord is one event as reported by a caller, before enrichment.
type AuditRecord struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"-"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Success      *bool                  `json:"success"`
	IPAddress    string                 `json:"-"`
	UserAgent    string                 `json:"-"`
	Purpose      string                 `json:"purpose"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type RecordResult struct {
	AuditID      string `json:"audit_id"`
	RiskScore    int    `json:"risk_score"`
	AlertCreated bool   `json:"alert_created"`
	IncidentID   string `json:"incident_id,omitempty"`
}

type AuditExport struct {
	Records     []*models.AuditEvent `json:"records"`
	RecordCount int                  `json:"record_count"`
	Format      string               `json:"export_format"`
	ExportedAt  time.Time            `json:"exported_at"`
}

type ActivitySummary struct {
	PrincipalID            string               `json:"user_id"`
	Days                   int                  `json:"days"`
	TotalEvents            int                  `json:"total_events"`
	ActivityByHour         [24]int              `json:"activity_by_hour"`
	ActivityByDay          [7]int               `json:"activity_by_day"`
	ActionTypes            map[string]int       `json:"action_types"`
	ResourcesAccessedCount int                  `json:"resources_accessed_count"`
	OffHoursActivity       int                  `json:"off_hours_activity"`
	FailedAttempts         int                  `json:"failed_attempts"`
	RiskIndicators         []string             `json:"risk_indicators"`
	RecentActivity         []*models.AuditEvent `json:"recent_activity"`
}

// AuditService is the append-only audit log every other component writes through.
type AuditService struct {
	events    *sqlite.AuditRepository
	locator   *geo.Locator
	settings  *Settings
	publisher *stream.Publisher
	opener    IncidentOpener
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuditService(
	events *sqlite.AuditRepository,
	locator *geo.Locator,
	settings *Settings,
	publisher *stream.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *AuditService {
	return &AuditService{
		events:    events,
		locator:   locator,
		settings:  settings,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       now,
	}
}

// SetIncidentOpener connects high-risk alerting once the incident service exists.
func (s *AuditService) SetIncidentOpener(opener IncidentOpener) {
	s.opener = opener
}

// Record enriches and inserts one event. The event is committed before any alert or
// stream delivery is attempted, and neither can fail the call.
func (s *AuditService) Record(ctx context.Context, rec AuditRecord) (*RecordResult, error) {
	rec.EventType = strings.TrimSpace(rec.EventType)
	rec.Action = strings.TrimSpace(rec.Action)
	if rec.EventType == "" || rec.Action == "" {
		return nil, newError(ErrValidation, "Missing required fields: event_type, action")
	}

	success := true
	if rec.Success != nil {
		success = *rec.Success
	}
	now := s.now().UTC()
	event := &models.AuditEvent{
		ID:           uuid.New().String(),
		EventType:    rec.EventType,
		ActorID:      rec.ActorID,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Success:      success,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Purpose:      strings.TrimSpace(rec.Purpose),
		Metadata:     s.enrich(rec, now),
		CreatedAt:    now,
	}
	event.RiskScore = eventRiskScore(event, rec.Metadata)

	if err := s.events.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}
	s.metrics.AuditEvents.WithLabelValues(event.EventType).Inc()
	if s.publisher != nil {
		s.publisher.PublishAudit(event)
	}

	result := &RecordResult{AuditID: event.ID, RiskScore: event.RiskScore}
	if event.RiskScore >= s.settings.AuditAlertThreshold(ctx) && !alertExempt[event.EventType] {
		if id := s.raiseAlert(ctx, event); id != "" {
			result.AlertCreated = true
			result.IncidentID = id
		}
	}
	return result, nil
}

// recordQuietly is Record for side-call audit writes whose failure must not fail the caller.
func (s *AuditService) recordQuietly(ctx context.Context, rec AuditRecord) {
	if _, err := s.Record(ctx, rec); err != nil {
		s.logger.Error("Audit write failed",
			zap.String("event_type", rec.EventType),
			zap.String("action", rec.Action),
			zap.Error(err))
	}
}

func (s *AuditService) raiseAlert(ctx context.Context, event *models.AuditEvent) string {
	if s.opener == nil {
		return ""
	}
	severity := models.SeverityMedium
	if event.RiskScore >= 85 {
		severity = models.SeverityHigh
	}
	var affected []string
	if event.ActorID != "" {
		affected = []string{event.ActorID}
	}
	created, err := s.opener.Create(ctx, CreateIncidentRequest{
		Type:               models.IncidentHighRiskAction,
		Severity:           severity,
		Title:              "High-risk action detected: " + event.Action,
		Description:        fmt.Sprintf("User performed high-risk action with risk score %d", event.RiskScore),
		AffectedPrincipals: affected,
		DetectionMethod:    "automated_audit",
		Indicators:         []string{"high_risk_score", event.EventType},
		ReporterID:         event.ActorID,
	})
	if err != nil {
		s.logger.Error("Failed to raise high-risk alert",
			zap.String("audit_id", event.ID),
			zap.Int("risk_score", event.RiskScore),
			zap.Error(err))
		return ""
	}
	return created.IncidentID
}

func (s *AuditService) enrich(rec AuditRecord, now time.Time) map[string]interface{} {
	metadata := make(map[string]interface{}, len(rec.Metadata)+10)
	for k, v := range rec.Metadata {
		metadata[k] = v
	}

	ua := rec.UserAgent
	if ua == "" {
		ua = "unknown"
	}
	client := util.ParseUserAgent(ua)
	metadata["browser"] = client.Browser
	metadata["os"] = client.OS
	metadata["device_type"] = client.Device

	ip := rec.IPAddress
	if ip == "" {
		ip = "unknown"
	}
	metadata["location"] = s.locator.Lookup(ip)

	local := now.In(util.Singapore)
	metadata["timestamp_utc"] = now.Format(time.RFC3339)
	metadata["timestamp_sgt"] = local.Format("2006-01-02 15:04:05")
	metadata["day_of_week"] = int(local.Weekday())
	metadata["hour_of_day"] = local.Hour()
	metadata["is_business_hours"] = util.IsBusinessHours(now)
	return metadata
}

// eventRiskScore prefers a caller-supplied score, otherwise weighs the event itself.
func eventRiskScore(event *models.AuditEvent, supplied map[string]interface{}) int {
	if v, ok := supplied["risk_score"]; ok {
		if score, ok := toInt(v); ok {
			return score
		}
	}
	score, ok := eventRiskWeights[event.EventType]
	if !ok {
		score = 10
	}
	if !event.Success {
		score += 20
	}
	if event.ResourceType == ResourceMedicalRecord || event.ResourceType == ResourcePrescription {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	events, err := s.events.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return events, nil
}

// Export returns matching events and records the export itself.
func (s *AuditService) Export(ctx context.Context, actorID string, filter models.AuditFilter, format string) (*AuditExport, error) {
	if format == "" {
		format = "json"
	}
	if format != "json" {
		return nil, newError(ErrValidation, "Unsupported export format: %s", format)
	}
	if filter.Limit <= 0 || filter.Limit > maxExportRecords {
		filter.Limit = maxExportRecords
	}
	events, err := s.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{
		"record_count":  len(events),
		"export_format": format,
	}
	if !filter.Since.IsZero() {
		metadata["start_date"] = filter.Since.UTC().Format(time.RFC3339)
	}
	if !filter.Until.IsZero() {
		metadata["end_date"] = filter.Until.UTC().Format(time.RFC3339)
	}
	s.recordQuietly(ctx, AuditRecord{
		EventType: models.EventAuditExport,
		ActorID:   actorID,
		Action:    "export_audit_logs",
		Metadata:  metadata,
	})

	return &AuditExport{Records: events, RecordCount: len(events), Format: format, ExportedAt: s.now().UTC()}, nil
}

// ActivitySummary profiles one principal's audit trail over the last days.
func (s *AuditService) ActivitySummary(ctx context.Context, principalID string, days int) (*ActivitySummary, error) {
	if principalID == "" {
		return nil, newError(ErrValidation, "user_id is required")
	}
	if days <= 0 {
		days = 7
	}
	events, err := s.Query(ctx, models.AuditFilter{
		ActorID: principalID,
		Since:   s.now().Add(-time.Duration(days) * 24 * time.Hour),
		Limit:   maxExportRecords,
	})
	if err != nil {
		return nil, err
	}

	summary := &ActivitySummary{
		PrincipalID:    principalID,
		Days:           days,
		TotalEvents:    len(events),
		ActionTypes:    map[string]int{},
		RiskIndicators: []string{},
	}
	weights := s.settings.RiskWeights(ctx)
	resources := map[string]bool{}
	for _, e := range events {
		local := e.CreatedAt.In(util.Singapore)
		summary.ActivityByHour[local.Hour()]++
		summary.ActivityByDay[int(local.Weekday())]++
		summary.ActionTypes[e.Action]++
		if e.ResourceID != "" {
			resources[e.ResourceType+":"+e.ResourceID] = true
		}
		if weights.IsOffHours(local.Hour()) {
			summary.OffHoursActivity++
		}
		if !e.Success {
			summary.FailedAttempts++
		}
	}
	summary.ResourcesAccessedCount = len(resources)
	if summary.OffHoursActivity > 5 {
		summary.RiskIndicators = append(summary.RiskIndicators, "High off-hours activity")
	}
	if summary.FailedAttempts > 10 {
		summary.RiskIndicators = append(summary.RiskIndicators, "High number of failed attempts")
	}
	if len(events) > 10 {
		events = events[:10]
	}
	summary.RecentActivity = events
	return summary, nil
}

func boolPtr(b bool) *bool { return &b }
