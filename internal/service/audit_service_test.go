package service

import (
	"testing"
	"time"

	"clinic-secops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequiresTypeAndAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.services.Audit().Record(f.ctx, AuditRecord{EventType: models.EventLogin})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Missing required fields: event_type, action", PublicMessage(err))

	_, err = f.services.Audit().Record(f.ctx, AuditRecord{Action: "login"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordEnrichesEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.services.Audit().Record(f.ctx, AuditRecord{
		EventType:    models.EventDataAccess,
		ActorID:      "doc-1",
		Action:       "view_record",
		ResourceType: ResourcePatientData,
		ResourceID:   "pat-1",
		IPAddress:    "203.0.113.10",
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
		Purpose:      "Follow-up consultation",
		Metadata:     map[string]interface{}{"ward": "B2"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AuditID)
	assert.Equal(t, 15, res.RiskScore)
	assert.False(t, res.AlertCreated)

	events := f.auditEvents(t, models.EventDataAccess)
	require.Len(t, events, 1)
	e := events[0]
	assert.True(t, e.Success)
	assert.Equal(t, "Follow-up consultation", e.Purpose)
	assert.Equal(t, "B2", e.Metadata["ward"])
	assert.Equal(t, "Chrome", e.Metadata["browser"])
	assert.EqualValues(t, 10, e.Metadata["hour_of_day"])
	assert.EqualValues(t, 1, e.Metadata["day_of_week"])
	assert.Equal(t, true, e.Metadata["is_business_hours"])
	assert.Equal(t, "2026-10-19 10:00:00", e.Metadata["timestamp_sgt"])
	assert.Contains(t, e.Metadata, "location")
}

func TestEventRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		event    models.AuditEvent
		supplied map[string]interface{}
		want     int
	}{
		{"login", models.AuditEvent{EventType: models.EventLogin, Success: true}, nil, 5},
		{"unknown type", models.AuditEvent{EventType: "print_invoice", Success: true}, nil, 10},
		{"failure", models.AuditEvent{EventType: models.EventLogin}, nil, 25},
		{"sensitive resource", models.AuditEvent{EventType: models.EventPrescriptionCreate, Success: true, ResourceType: ResourcePrescription}, nil, 45},
		{"failed deletion of a record", models.AuditEvent{EventType: models.EventDataDeletion, ResourceType: ResourceMedicalRecord}, map[string]interface{}{}, 80},
		{"supplied score wins", models.AuditEvent{EventType: models.EventLogin, Success: true}, map[string]interface{}{"risk_score": float64(72)}, 72},
		{"non numeric supplied score ignored", models.AuditEvent{EventType: models.EventLogin, Success: true}, map[string]interface{}{"risk_score": "high"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := tt.event
			assert.Equal(t, tt.want, eventRiskScore(&event, tt.supplied))
		})
	}
}

func TestHighRiskEventRaisesIncident(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "doc-1", models.RoleDoctor)

	res, err := f.services.Audit().Record(f.ctx, AuditRecord{
		EventType:    models.EventDataExport,
		ActorID:      "doc-1",
		Action:       "export",
		ResourceType: ResourceMedicalRecord,
		ResourceID:   "rec-1",
		Success:      boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 75, res.RiskScore)
	require.True(t, res.AlertCreated)
	require.NotEmpty(t, res.IncidentID)

	detail, err := f.services.Incidents().GetByID(f.ctx, res.IncidentID)
	require.NoError(t, err)
	inc := detail.Incident
	assert.Equal(t, models.IncidentHighRiskAction, inc.Type)
	assert.Equal(t, models.SeverityMedium, inc.Severity)
	assert.Equal(t, "High-risk action detected: export", inc.Title)
	assert.Equal(t, []string{"doc-1"}, inc.AffectedPrincipals)
	assert.Equal(t, "automated_audit", inc.DetectionMethod)
	assert.Equal(t, []string{"high_risk_score", models.EventDataExport}, inc.Indicators)

	res, err = f.services.Audit().Record(f.ctx, AuditRecord{
		EventType: models.EventLogin,
		ActorID:   "doc-1",
		Action:    "login",
		Metadata:  map[string]interface{}{"risk_score": 90},
	})
	require.NoError(t, err)
	require.True(t, res.AlertCreated)
	detail, err = f.services.Incidents().GetByID(f.ctx, res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, detail.Incident.Severity)
}

func TestIncidentEventsNeverAlert(t *testing.T) {
	f := newFixture(t)
	for _, eventType := range []string{models.EventIncidentCreated, models.EventIncidentUpdated, models.EventAutomatedResponse} {
		res, err := f.services.Audit().Record(f.ctx, AuditRecord{
			EventType: eventType,
			Action:    "noop",
			Metadata:  map[string]interface{}{"risk_score": 99},
		})
		require.NoError(t, err)
		assert.Equal(t, 99, res.RiskScore)
		assert.False(t, res.AlertCreated, eventType)
	}

	active, err := f.services.Incidents().GetActive(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, active.Total)
}

func TestAlertThresholdSetting(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.Set(f.ctx, SettingAuditAlertThreshold, "30", testEpoch))

	res, err := f.services.Audit().Record(f.ctx, AuditRecord{EventType: models.EventPermissionChange, Action: "grant_admin"})
	require.NoError(t, err)
	assert.Equal(t, 35, res.RiskScore)
	assert.True(t, res.AlertCreated)
}

func TestExportRecordsItself(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Audit()
	for i := 0; i < 3; i++ {
		_, err := svc.Record(f.ctx, AuditRecord{EventType: models.EventLogin, ActorID: "pat-1", Action: "login"})
		require.NoError(t, err)
	}

	export, err := svc.Export(f.ctx, "admin-1", models.AuditFilter{EventType: models.EventLogin}, "")
	require.NoError(t, err)
	assert.Equal(t, "json", export.Format)
	assert.Equal(t, 3, export.RecordCount)
	assert.Len(t, export.Records, 3)

	exports := f.auditEvents(t, models.EventAuditExport)
	require.Len(t, exports, 1)
	assert.Equal(t, "admin-1", exports[0].ActorID)
	assert.EqualValues(t, 3, exports[0].Metadata["record_count"])

	_, err = svc.Export(f.ctx, "admin-1", models.AuditFilter{}, "csv")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Unsupported export format: csv", PublicMessage(err))
}

func TestActivitySummary(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Audit()
	record := func(rec AuditRecord) {
		t.Helper()
		_, err := svc.Record(f.ctx, rec)
		require.NoError(t, err)
	}

	record(AuditRecord{EventType: models.EventDataAccess, ActorID: "doc-1", Action: "view_record", ResourceType: ResourceMedicalRecord, ResourceID: "rec-1"})
	record(AuditRecord{EventType: models.EventLogin, ActorID: "doc-1", Action: "login", Success: boolPtr(false)})
	record(AuditRecord{EventType: models.EventLogin, ActorID: "doc-2", Action: "login"})
	// 23:00 in Singapore
	f.clock.Advance(13 * time.Hour)
	record(AuditRecord{EventType: models.EventDataAccess, ActorID: "doc-1", Action: "view_record", ResourceType: ResourceMedicalRecord, ResourceID: "rec-1"})

	summary, err := svc.ActivitySummary(f.ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Days)
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, 1, summary.FailedAttempts)
	assert.Equal(t, 1, summary.OffHoursActivity)
	assert.Equal(t, 1, summary.ResourcesAccessedCount)
	assert.Equal(t, map[string]int{"view_record": 2, "login": 1}, summary.ActionTypes)
	assert.Equal(t, 2, summary.ActivityByHour[10])
	assert.Equal(t, 1, summary.ActivityByHour[23])
	assert.Equal(t, 3, summary.ActivityByDay[time.Monday])
	assert.Empty(t, summary.RiskIndicators)
	assert.Len(t, summary.RecentActivity, 3)

	_, err = svc.ActivitySummary(f.ctx, "", 7)
	assert.ErrorIs(t, err, ErrValidation)
}
