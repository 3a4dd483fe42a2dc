package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinic-secops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalytics struct {
	total, failedLogins int
	err                 error
}

func (a *stubAnalytics) AuditCounts(context.Context, time.Time) (int, int, error) {
	return a.total, a.failedLogins, a.err
}

func withAnalytics(a AuditAnalytics) fixtureOption {
	return func(d *Dependencies) { d.Analytics = a }
}

func TestDashboardMetricsFromStore(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)

	// Outside the 24h window but inside 7d.
	_, err := f.services.Audit().Record(f.ctx, AuditRecord{EventType: models.EventLogin, ActorID: "pat-1", Action: "login", Success: boolPtr(false)})
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)
	f.session(t, "pat-1", models.RolePatient)
	_, err = f.services.Audit().Record(f.ctx, AuditRecord{EventType: models.EventLogin, ActorID: "pat-1", Action: "login", Success: boolPtr(false)})
	require.NoError(t, err)

	created := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityHigh)
	createIncident(t, f, models.IncidentMalwareDetected, models.SeverityLow)
	_, err = f.services.Incidents().Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: created.IncidentID, Status: models.StatusInvestigating})
	require.NoError(t, err)

	week, err := f.services.Dashboard().Metrics(f.ctx, "7d")
	require.NoError(t, err)
	assert.Equal(t, "7d", week.TimeRange)
	assert.Equal(t, sourceStore, week.Source)
	assert.Equal(t, 2, week.FailedLogins)
	assert.Equal(t, 2, week.IncidentsCreated)
	assert.Equal(t, 2, week.ActiveIncidents)
	assert.Equal(t, map[string]int{
		models.SeverityCritical: 0,
		models.SeverityHigh:     1,
		models.SeverityMedium:   0,
		models.SeverityLow:      1,
	}, week.IncidentsBySeverity)
	assert.Equal(t, 1, week.ActiveSessions)

	day, err := f.services.Dashboard().Metrics(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "24h", day.TimeRange)
	assert.Equal(t, 1, day.FailedLogins)
	assert.Less(t, day.AuditEvents, week.AuditEvents)
}

func TestDashboardRejectsUnknownRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.services.Dashboard().Metrics(f.ctx, "90d")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Invalid time_range: 90d", PublicMessage(err))
}

func TestDashboardPrefersAnalytics(t *testing.T) {
	analytics := &stubAnalytics{total: 1200, failedLogins: 17}
	f := newFixture(t, withAnalytics(analytics))

	got, err := f.services.Dashboard().Metrics(f.ctx, "30d")
	require.NoError(t, err)
	assert.Equal(t, sourceAnalytics, got.Source)
	assert.Equal(t, 1200, got.AuditEvents)
	assert.Equal(t, 17, got.FailedLogins)

	analytics.err = errors.New("connection refused")
	got, err = f.services.Dashboard().Metrics(f.ctx, "30d")
	require.NoError(t, err)
	assert.Equal(t, sourceStore, got.Source)
	assert.Zero(t, got.FailedLogins)
}
