package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/stream"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var incidentIDPattern = regexp.MustCompile(`^INC-\d{14}-[0-9A-Z]{5}$`)

func createIncident(t *testing.T, f *fixture, incidentType, severity string, affected ...string) *CreatedIncident {
	t.Helper()
	created, err := f.services.Incidents().Create(f.ctx, CreateIncidentRequest{
		Type:               incidentType,
		Severity:           severity,
		Title:              "Stolen laptop at front desk",
		Description:        "Reported by reception",
		AffectedPrincipals: affected,
		ReporterID:         "staff-1",
	})
	require.NoError(t, err)
	return created
}

func TestCreateIncidentValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()

	_, err := svc.Create(f.ctx, CreateIncidentRequest{Type: models.IncidentDataBreach, Severity: models.SeverityLow})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(f.ctx, CreateIncidentRequest{Type: models.IncidentDataBreach, Severity: "urgent", Title: "x"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Invalid severity: urgent", PublicMessage(err))
}

func TestCreateIncidentBuildsChecklist(t *testing.T) {
	f := newFixture(t)
	created := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityLow)

	assert.True(t, created.IncidentCreated)
	assert.Regexp(t, incidentIDPattern, created.IncidentID)
	assert.Equal(t, models.StatusOpen, created.Incident.Status)
	assert.Nil(t, created.Incident.AssigneeID)
	assert.Equal(t, []string{
		"Quarantine affected system",
		"Run full system scan",
		"Check for lateral movement",
		"Update incident status regularly",
	}, created.ResponseActions)
	assert.Equal(t, "Incident created successfully", created.Message)

	events := f.auditEvents(t, models.EventIncidentCreated)
	require.Len(t, events, 1)
	assert.Equal(t, created.IncidentID, events[0].ResourceID)
}

func TestCreateHighIncidentAssignsResponder(t *testing.T) {
	f := newFixture(t)
	f.responder(t, "sec-1")

	created := createIncident(t, f, models.IncidentDataBreach, models.SeverityHigh)
	require.NotNil(t, created.Incident.AssigneeID)
	assert.Equal(t, "sec-1", *created.Incident.AssigneeID)

	assert.Eventually(t, func() bool {
		return len(f.notifier.templates()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"security_incident"}, f.notifier.templates())
}

func TestIncidentStatusTransitions(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()
	id := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityMedium).IncidentID

	_, err := svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusResolved, Resolution: "done"})
	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, &TransitionError{From: models.StatusOpen, To: models.StatusResolved}, transErr)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updated, err := svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusInvestigating, Note: "Looking into it"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, updated.OldStatus)
	assert.Equal(t, models.StatusInvestigating, updated.NewStatus)

	_, err = svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusResolved})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{
		IncidentID:        id,
		Status:            models.StatusResolved,
		Resolution:        "Reimaged workstation",
		AdditionalActions: []string{"Rotated credentials"},
	})
	require.NoError(t, err)

	_, err = svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusClosed})
	require.NoError(t, err)

	_, err = svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusInvestigating})
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, models.StatusClosed, transErr.From)

	_, err = svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Note: "late note"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	detail, err := svc.GetByID(f.ctx, id)
	require.NoError(t, err)
	inc := detail.Incident
	assert.Equal(t, models.StatusClosed, inc.Status)
	require.NotNil(t, inc.Resolution)
	assert.Equal(t, "Reimaged workstation", *inc.Resolution)
	assert.NotNil(t, inc.ResolvedAt)
	assert.NotNil(t, inc.ClosedAt)
	require.Len(t, inc.Notes, 1)
	assert.Equal(t, "admin-1", inc.Notes[0].AuthorID)

	manual := 0
	for _, a := range inc.ResponseActions {
		if a.Source == models.ActionSourceManual {
			manual++
		}
	}
	assert.Equal(t, 1, manual)
}

func TestActiveIncidentGaugeFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()
	id := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityMedium).IncidentID
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IncidentsActive))

	for _, req := range []UpdateIncidentRequest{
		{IncidentID: id, Status: models.StatusInvestigating},
		{IncidentID: id, Status: models.StatusResolved, Resolution: "Reimaged workstation"},
	} {
		_, err := svc.Update(f.ctx, "admin-1", req)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.IncidentsActive))

	_, err := svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: id, Status: models.StatusClosed})
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.IncidentsActive))
}

func TestUpdateUnknownIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.services.Incidents().Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: "INC-missing", Status: models.StatusInvestigating})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.services.Incidents().Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: "INC-missing", Status: "archived"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEscalateRaisesSeverity(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()
	id := createIncident(t, f, models.IncidentDataBreach, models.SeverityMedium).IncidentID

	_, err := svc.Escalate(f.ctx, "admin-1", id, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	f.clock.Advance(time.Minute)
	escalated, err := svc.Escalate(f.ctx, "admin-1", id, "Patient data confirmed exposed")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, escalated.PreviousSeverity)
	assert.Equal(t, models.SeverityHigh, escalated.NewSeverity)

	detail, err := svc.GetByID(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, detail.Incident.Status)
	assert.Equal(t, models.SeverityHigh, detail.Incident.Severity)
	require.NotNil(t, detail.Incident.EscalationReason)
	assert.Equal(t, "Incident escalated: Patient data confirmed exposed", detail.Incident.Notes[0].Note)

	events := make([]string, 0, len(detail.Timeline))
	for i, entry := range detail.Timeline {
		events = append(events, entry.Event)
		if i > 0 {
			assert.False(t, entry.Timestamp.Before(detail.Timeline[i-1].Timestamp))
		}
	}
	assert.Equal(t, "Incident Created", events[0])
	assert.Contains(t, events, "Incident Escalated")
	assert.Contains(t, events, "Note Added")
	assert.Contains(t, events, models.EventIncidentUpdated)
}

func TestEscalateCriticalStaysCritical(t *testing.T) {
	f := newFixture(t)
	id := createIncident(t, f, models.IncidentDataBreach, models.SeverityCritical).IncidentID

	escalated, err := f.services.Incidents().Escalate(f.ctx, "admin-1", id, "Regulator asked")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, escalated.NewSeverity)
}

func TestCriticalAccessIncidentContainsAffectedPrincipal(t *testing.T) {
	f := newFixture(t)
	f.responder(t, "sec-1")
	f.principal(t, "pat-1", models.RolePatient)
	first := f.session(t, "pat-1", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)

	created := createIncident(t, f, models.IncidentUnauthorizedAccess, models.SeverityCritical, "pat-1")
	assert.Equal(t, "Critical incident created - automated response initiated", created.Message)
	assert.Equal(t, []string{
		"Locked 1 affected user account(s)",
		"Terminated all active sessions for affected users",
		"Sent notifications to security team",
	}, created.ContainmentActions)
	assert.Contains(t, created.ResponseActions, "Terminate all active sessions")

	p, err := f.directory.GetPrincipal(f.ctx, "pat-1")
	require.NoError(t, err)
	assert.True(t, p.Locked)
	require.NotNil(t, p.LockReason)
	assert.Equal(t, "Security incident: "+created.IncidentID, *p.LockReason)

	views, err := f.services.Sessions().ListActiveSessions(f.ctx, "pat-1", "")
	require.NoError(t, err)
	assert.Empty(t, views)
	_, err = f.services.Identity().Authenticate(f.ctx, first.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Len(t, f.auditEvents(t, models.EventAutomatedResponse), 1)

	// A second run is harmless: nobody new is locked.
	again, err := f.services.Incidents().Contain(f.ctx, created.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "Locked 0 affected user account(s)", again.ActionsTaken[0])

	detail, err := f.services.Incidents().GetByID(f.ctx, created.IncidentID)
	require.NoError(t, err)
	containment := 0
	for _, a := range detail.Incident.ResponseActions {
		if a.Source == models.ActionSourceContainment {
			containment++
		}
	}
	assert.Equal(t, 6, containment)
}

func TestContainmentWithoutResponderSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)

	created := createIncident(t, f, models.IncidentUnauthorizedAccess, models.SeverityCritical, "pat-1")
	assert.Nil(t, created.Incident.AssigneeID)
	assert.Equal(t, []string{
		"Locked 1 affected user account(s)",
		"Terminated all active sessions for affected users",
	}, created.ContainmentActions)
	assert.Empty(t, f.notifier.templates())
}

type lockFailingDirectory struct {
	Directory
	failOn string
}

func (d lockFailingDirectory) LockPrincipal(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	if id == d.failOn {
		return false, errors.New("directory unavailable")
	}
	return d.Directory.LockPrincipal(ctx, id, reason, now)
}

func TestContainmentRecordsPartialProgress(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	f.principal(t, "pat-2", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)

	svc := NewIncidentService(sqlite.NewIncidentRepository(f.db),
		lockFailingDirectory{Directory: f.directory, failOn: "pat-2"},
		f.services.Sessions(), f.services.Audit(), f.notifier, stream.NewPublisher(f.metrics), nil,
		NewSettings(f.settings, zap.NewNop()), f.metrics, zap.NewNop(), f.clock.Now)

	created, err := svc.Create(f.ctx, CreateIncidentRequest{
		Type:               models.IncidentUnauthorizedAccess,
		Severity:           models.SeverityCritical,
		Title:              "Credential stuffing",
		AffectedPrincipals: []string{"pat-1", "pat-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Critical incident created - automated response failed", created.Message)
	assert.Equal(t, []string{
		"Locked 1 affected user account(s)",
		"Terminated active sessions for 1 of 2 affected user(s)",
	}, created.ContainmentActions)

	p, err := f.directory.GetPrincipal(f.ctx, "pat-1")
	require.NoError(t, err)
	assert.True(t, p.Locked)
	views, err := f.services.Sessions().ListActiveSessions(f.ctx, "pat-1", "")
	require.NoError(t, err)
	assert.Empty(t, views)

	detail, err := svc.GetByID(f.ctx, created.IncidentID)
	require.NoError(t, err)
	containment := 0
	for _, a := range detail.Incident.ResponseActions {
		if a.Source == models.ActionSourceContainment {
			containment++
		}
	}
	assert.Equal(t, 2, containment)

	events := f.auditEvents(t, models.EventAutomatedResponse)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "failed to lock pat-2: directory unavailable", events[0].Metadata["error"])
}

func TestContainSkipsTypesWithoutContainment(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	created := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityCritical, "pat-1")
	assert.Empty(t, created.ContainmentActions)

	res, err := f.services.Incidents().Contain(f.ctx, created.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, res.ActionsTaken)

	p, err := f.directory.GetPrincipal(f.ctx, "pat-1")
	require.NoError(t, err)
	assert.False(t, p.Locked)
}

func TestGetActiveGroupsBySeverity(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()
	createIncident(t, f, models.IncidentMalwareDetected, models.SeverityLow)
	createIncident(t, f, models.IncidentDataBreach, models.SeverityCritical)
	createIncident(t, f, models.IncidentDataBreach, models.SeverityHigh)
	closed := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityMedium).IncidentID

	for _, status := range []string{models.StatusInvestigating} {
		_, err := svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: closed, Status: status})
		require.NoError(t, err)
	}
	_, err := svc.Update(f.ctx, "admin-1", UpdateIncidentRequest{IncidentID: closed, Status: models.StatusResolved, Resolution: "fixed"})
	require.NoError(t, err)

	active, err := svc.GetActive(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, active.Total)
	assert.Equal(t, 1, active.CriticalCount)
	assert.Equal(t, 2, active.RequiresImmediateAttention)
	assert.Empty(t, active.BySeverity[models.SeverityMedium])
	assert.Len(t, active.BySeverity[models.SeverityLow], 1)
	assert.Equal(t, models.SeverityCritical, active.Incidents[0].Severity)
	assert.Equal(t, models.SeverityLow, active.Incidents[2].Severity)
}

func TestListAndSearchIncidents(t *testing.T) {
	f := newFixture(t)
	svc := f.services.Incidents()
	createIncident(t, f, models.IncidentMalwareDetected, models.SeverityLow)
	_, err := svc.Create(f.ctx, CreateIncidentRequest{
		Type:     models.IncidentSuspiciousBehavior,
		Severity: models.SeverityMedium,
		Title:    "Repeated 2FA failures",
	})
	require.NoError(t, err)

	listed, err := svc.List(f.ctx, models.IncidentFilter{Severity: models.SeverityMedium})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Repeated 2FA failures", listed[0].Title)

	_, err = svc.List(f.ctx, models.IncidentFilter{Status: "archived"})
	assert.ErrorIs(t, err, ErrValidation)

	found, err := svc.Search(f.ctx, "laptop", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.IncidentMalwareDetected, found[0].Type)

	_, err = svc.Search(f.ctx, " ", 0)
	assert.ErrorIs(t, err, ErrValidation)
}

type stubSearcher struct {
	ids []string
	err error
}

func (s *stubSearcher) SearchIncidents(context.Context, string, int) ([]string, error) {
	return s.ids, s.err
}

func TestSearchPrefersIndex(t *testing.T) {
	searcher := &stubSearcher{}
	f := newFixture(t, withSearcher(searcher))
	id := createIncident(t, f, models.IncidentMalwareDetected, models.SeverityLow).IncidentID
	searcher.ids = []string{"INC-gone", id}

	found, err := f.services.Incidents().Search(f.ctx, "anything", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)
}

func TestNewIncidentIDFormat(t *testing.T) {
	id, err := NewIncidentID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Regexp(t, incidentIDPattern, id)
	assert.Equal(t, "INC-20260102030405-", id[:19])
}
