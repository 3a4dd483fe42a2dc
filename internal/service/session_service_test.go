package service

import (
	"context"
	"testing"
	"time"

	"clinic-secops/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateSessionEvictsLeastRecentlyActive(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	sessions := f.services.Sessions()

	first := f.session(t, "pat-1", models.RolePatient)
	f.clock.Advance(time.Minute)
	second := f.session(t, "pat-1", models.RolePatient)
	f.clock.Advance(time.Minute)
	third := f.session(t, "pat-1", models.RolePatient)

	f.clock.Advance(time.Minute)
	_, err := sessions.Touch(f.ctx, first.Token)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	fourth := f.session(t, "pat-1", models.RolePatient)
	assert.Equal(t, 1, fourth.TerminatedSessions)

	views, err := sessions.ListActiveSessions(f.ctx, "pat-1", fourth.SessionID)
	require.NoError(t, err)
	require.Len(t, views, 3)

	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{first.SessionID, third.SessionID, fourth.SessionID}, ids)
	assert.NotContains(t, ids, second.SessionID)
	assert.Equal(t, fourth.SessionID, views[0].ID)
	assert.True(t, views[0].IsCurrent)
	assert.Equal(t, "Chrome", views[0].Browser)

	_, err = sessions.Touch(f.ctx, second.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateSessionUsesRoleCap(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "doc-1", models.RoleDoctor)

	f.session(t, "doc-1", models.RoleDoctor)
	f.session(t, "doc-1", models.RoleDoctor)

	limit, err := f.services.Sessions().CheckSessionLimit(f.ctx, "doc-1", models.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, &SessionLimit{ActiveSessions: 2, MaxSessions: 2, AtLimit: true}, limit)

	third := f.session(t, "doc-1", models.RoleDoctor)
	assert.Equal(t, 1, third.TerminatedSessions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsEvicted))
}

func TestCreateSessionUnknownRoleFallsBack(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "nurse-1", "nurse")
	sessions := f.services.Sessions()

	created := f.session(t, "nurse-1", "nurse")
	assert.Equal(t, testEpoch.Add(30*time.Minute), created.ExpiresAt.UTC())

	f.session(t, "nurse-1", "nurse")
	f.session(t, "nurse-1", "nurse")
	limit, err := sessions.CheckSessionLimit(f.ctx, "nurse-1", "nurse")
	require.NoError(t, err)
	assert.Equal(t, 3, limit.MaxSessions)
	assert.True(t, limit.AtLimit)

	_, err = sessions.CreateSession(f.ctx, CreateSessionRequest{PrincipalID: "nurse-1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTouchExpiresIdleSession(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	created := f.session(t, "pat-1", models.RolePatient)
	sessions := f.services.Sessions()

	f.clock.Advance(29 * time.Minute)
	touched, err := sessions.Touch(f.ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), touched.ExpiresAt.UTC())

	f.clock.Advance(31 * time.Minute)
	_, err = sessions.Touch(f.ctx, created.Token)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Session expired", PublicMessage(err))

	_, err = sessions.Touch(f.ctx, created.Token)
	assert.Equal(t, "Invalid session", PublicMessage(err))
}

func TestTerminateSessionScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	f.principal(t, "pat-2", models.RolePatient)
	created := f.session(t, "pat-1", models.RolePatient)
	sessions := f.services.Sessions()

	_, err := sessions.TerminateSession(f.ctx, "pat-2", created.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	changed, err := sessions.TerminateSession(f.ctx, "pat-1", created.SessionID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = sessions.TerminateSession(f.ctx, "pat-1", created.SessionID)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Len(t, f.auditEvents(t, models.EventSessionTerminated), 1)
}

func TestTerminateAllOtherSessions(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	keep := f.session(t, "pat-1", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)

	n, err := f.services.Sessions().TerminateAllOtherSessions(f.ctx, "pat-1", keep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	views, err := f.services.Sessions().ListActiveSessions(f.ctx, "pat-1", keep.SessionID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, keep.SessionID, views[0].ID)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	f.session(t, "pat-1", models.RolePatient)

	f.clock.Advance(time.Hour)
	n, err := f.services.Sessions().SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSessionPolicyFallsBackToDefaults(t *testing.T) {
	f := newFixture(t)
	settings := NewSettings(f.settings, zap.NewNop())
	ctx := context.Background()

	timeout, maxSessions := settings.SessionPolicy(ctx, models.RoleDoctor)
	assert.Equal(t, 60*time.Minute, timeout)
	assert.Equal(t, 2, maxSessions)

	require.NoError(t, f.settings.Set(ctx, SettingSessionTimeout, `{"patient_minutes": 15}`, testEpoch))
	timeout, _ = settings.SessionPolicy(ctx, models.RolePatient)
	assert.Equal(t, 15*time.Minute, timeout)
	timeout, _ = settings.SessionPolicy(ctx, models.RoleAdmin)
	assert.Equal(t, 120*time.Minute, timeout)

	require.NoError(t, f.settings.Set(ctx, SettingMaxSessions, `not json`, testEpoch))
	_, maxSessions = settings.SessionPolicy(ctx, models.RolePatient)
	assert.Equal(t, 3, maxSessions)

	timeout, maxSessions = settings.SessionPolicy(ctx, "auditor")
	assert.Equal(t, 30*time.Minute, timeout)
	assert.Equal(t, 3, maxSessions)
}
