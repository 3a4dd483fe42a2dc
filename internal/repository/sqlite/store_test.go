package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clinic-secops/internal/config"
	"clinic-secops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSession(id, principal string, at time.Time, idle time.Duration) *models.Session {
	return &models.Session{
		ID:           id,
		PrincipalID:  principal,
		Role:         models.RolePatient,
		TokenHash:    "hash-" + id,
		CreatedAt:    at,
		LastActivity: at,
		ExpiresAt:    at.Add(idle),
		IdleTimeout:  idle,
	}
}

func TestCreateWithCapEvictsLeastRecentlyActive(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		evicted, err := repo.CreateWithCap(ctx, newSession(fmt.Sprintf("s%d", i), "p1", at, 30*time.Minute), 3, at)
		require.NoError(t, err)
		assert.Empty(t, evicted)
	}

	// s0 becomes the most recently active, so s1 is the eviction candidate.
	_, err := repo.Touch(ctx, "hash-s0", base.Add(5*time.Minute))
	require.NoError(t, err)

	now := base.Add(6 * time.Minute)
	evicted, err := repo.CreateWithCap(ctx, newSession("s3", "p1", now, 30*time.Minute), 3, now)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, "s1", evicted[0].ID)

	victim, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, victim.IsActive)
	require.NotNil(t, victim.TerminationReason)
	assert.Equal(t, models.ReasonLimitExceeded, *victim.TerminationReason)

	active, err := repo.ListActive(ctx, "p1", now)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "s3", active[0].ID)
}

func TestCreateWithCapConcurrentNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Second)
			_, err := repo.CreateWithCap(ctx, newSession(fmt.Sprintf("c%02d", i), "p1", at, time.Hour), 2, base.Add(time.Minute))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := repo.CountActive(ctx, "p1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExpiredSessionsDoNotCountTowardCap(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	_, err := repo.CreateWithCap(ctx, newSession("old", "p1", base, 10*time.Minute), 1, base)
	require.NoError(t, err)

	later := base.Add(time.Hour)
	evicted, err := repo.CreateWithCap(ctx, newSession("new", "p1", later, 10*time.Minute), 1, later)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	old, err := repo.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, models.ReasonExpired, *old.TerminationReason)
}

func TestTouchSlidesAndExpires(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	_, err := repo.CreateWithCap(ctx, newSession("s1", "p1", base, 30*time.Minute), 3, base)
	require.NoError(t, err)

	s, err := repo.Touch(ctx, "hash-s1", base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, base.Add(50*time.Minute), s.ExpiresAt)

	_, err = repo.Touch(ctx, "hash-s1", base.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = repo.Touch(ctx, "hash-s1", base.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSessionInactive)

	_, err = repo.Touch(ctx, "missing", base)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateScopedToOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	_, err := repo.CreateWithCap(ctx, newSession("s1", "p1", base, time.Hour), 3, base)
	require.NoError(t, err)
	_, err = repo.CreateWithCap(ctx, newSession("s2", "p1", base, time.Hour), 3, base)
	require.NoError(t, err)

	_, err = repo.Terminate(ctx, "intruder", "s1", models.ReasonUserTerminated, base)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := repo.Terminate(ctx, "p1", "s1", models.ReasonUserTerminated, base)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := repo.TerminateOthers(ctx, "p1", "s2", models.ReasonOthersTerminated, base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.TerminateAll(ctx, "p1", "Security incident: INC-1", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBackupCodeSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewTwoFactorRepository(openTestDB(t))

	cred := &models.TwoFactorCredential{PrincipalID: "p1", Method: models.MethodTOTP, SecretCiphertext: "ct"}
	require.NoError(t, repo.UpsertPending(ctx, cred, base))
	require.NoError(t, repo.Enable(ctx, "p1", models.MethodTOTP, "ct", []string{"a", "b", "c"}, base))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ConsumeBackupCode(ctx, "p1", models.MethodTOTP, "b"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	remaining, err := repo.CountBackupCodes(ctx, "p1", models.MethodTOTP)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestTwoFactorStateGuards(t *testing.T) {
	ctx := context.Background()
	repo := NewTwoFactorRepository(openTestDB(t))

	cred := &models.TwoFactorCredential{PrincipalID: "p1", Method: models.MethodTOTP, SecretCiphertext: "first"}
	require.NoError(t, repo.UpsertPending(ctx, cred, base))

	// A stale verification against a replaced secret must not enable.
	require.NoError(t, repo.UpsertPending(ctx, &models.TwoFactorCredential{PrincipalID: "p1", Method: models.MethodTOTP, SecretCiphertext: "second"}, base))
	assert.ErrorIs(t, repo.Enable(ctx, "p1", models.MethodTOTP, "first", []string{"x"}, base), ErrConflict)
	require.NoError(t, repo.Enable(ctx, "p1", models.MethodTOTP, "second", []string{"x"}, base))

	err := repo.UpsertPending(ctx, &models.TwoFactorCredential{PrincipalID: "p1", Method: models.MethodTOTP, SecretCiphertext: "third"}, base)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)

	require.NoError(t, repo.Disable(ctx, "p1", models.MethodTOTP, base))
	got, err := repo.Get(ctx, "p1", models.MethodTOTP)
	require.NoError(t, err)
	assert.Equal(t, models.TwoFactorDisabled, got.State)
	assert.Empty(t, got.SecretCiphertext)

	assert.ErrorIs(t, repo.ReplaceBackupCodes(ctx, "p1", models.MethodTOTP, []string{"y"}, base), ErrConflict)
	assert.ErrorIs(t, repo.Disable(ctx, "nobody", models.MethodTOTP, base), ErrNotFound)
}

func TestIncidentGuardedTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewIncidentRepository(openTestDB(t))

	inc := &models.Incident{
		ID:                 "INC-20260302090000-AAAAA",
		Type:               models.IncidentUnauthorizedAccess,
		Severity:           models.SeverityMedium,
		Status:             models.StatusOpen,
		Title:              "Repeated failed logins",
		AffectedPrincipals: []string{"p1", "p2"},
		ResponseActions:    []models.IncidentAction{{Action: "Review access logs", Source: models.ActionSourceTemplate, CreatedAt: base}},
		CreatedAt:          base,
		UpdatedAt:          base,
	}
	require.NoError(t, repo.Create(ctx, inc))

	require.NoError(t, repo.Apply(ctx, inc.ID, IncidentChange{
		FromStatus: models.StatusOpen,
		ToStatus:   models.StatusInvestigating,
		Notes:      []models.IncidentNote{{AuthorID: "admin", Note: "looking", CreatedAt: base}},
	}, base))

	err := repo.Apply(ctx, inc.ID, IncidentChange{FromStatus: models.StatusOpen, ToStatus: models.StatusEscalated}, base)
	assert.ErrorIs(t, err, ErrConflict)

	err = repo.Apply(ctx, "INC-missing", IncidentChange{FromStatus: models.StatusOpen, ToStatus: models.StatusEscalated}, base)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvestigating, got.Status)
	assert.Len(t, got.Notes, 1)
	assert.Len(t, got.ResponseActions, 1)
	assert.Equal(t, []string{"p1", "p2"}, got.AffectedPrincipals)

	n, err := repo.CountActiveInvolving(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := repo.CountActiveBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SeverityMedium])

	found, err := repo.Search(ctx, "failed LOGINS", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestAuditEventsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewAuditRepository(db)

	require.NoError(t, repo.Insert(ctx, &models.AuditEvent{
		ID:        "e1",
		EventType: models.EventLogin,
		ActorID:   "p1",
		Success:   false,
		Metadata:  map[string]interface{}{"risk_score": 25},
		CreatedAt: base,
	}))

	_, err := db.conn.ExecContext(ctx, `UPDATE audit_events SET success = 1 WHERE id = 'e1'`)
	assert.Error(t, err)
	_, err = db.conn.ExecContext(ctx, `DELETE FROM audit_events WHERE id = 'e1'`)
	assert.Error(t, err)

	failed := false
	n, err := repo.Count(ctx, models.AuditFilter{EventType: models.EventLogin, Success: &failed, Since: base.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := repo.Query(ctx, models.AuditFilter{ActorID: "p1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.EqualValues(t, 25, events[0].Metadata["risk_score"])
}

func TestSeedAndDirectory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	seed := &config.SeedFile{
		Settings: map[string]interface{}{"audit_alert_threshold": 75},
		Principals: []config.SeedPrincipal{
			{ID: "admin-1", Role: models.RoleAdmin, Department: "security"},
			{ID: "doc-1", Role: models.RoleDoctor},
			{ID: "pat-1", Role: models.RolePatient},
		},
		Credentials:   []config.SeedCredential{{Token: "dev-token", PrincipalID: "doc-1"}},
		Relationships: []config.SeedRelationship{{DoctorID: "doc-1", PatientID: "pat-1"}},
		Consents: []config.SeedConsent{
			{PatientID: "pat-1", ConsentType: "data_export", Granted: true, ExpiresIn: "720h"},
			{PatientID: "pat-2", ConsentType: "data_export", Granted: true, ExpiresIn: "-1h"},
		},
	}
	require.NoError(t, ApplySeed(ctx, db, seed, func(s string) string { return "d:" + s }, base))

	value, found, err := NewSettingsRepository(db).Get(ctx, "audit_alert_threshold")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "75", value)

	dir := NewDirectoryRepository(db)
	p, err := dir.ResolveCredential(ctx, "d:dev-token", base)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", p.ID)

	responder, err := dir.FindResponder(ctx, models.RoleAdmin, "security")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", responder.ID)

	ok, err := dir.HasTreatingRelationship(ctx, "doc-1", "pat-1")
	require.NoError(t, err)
	assert.True(t, ok)

	consented, err := dir.ConsentedPatients(ctx, []string{"pat-1", "pat-2", "pat-3"}, "data_export", base)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"pat-1": true}, consented)

	expired, err := dir.CountExpiredConsents(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	changed, err := dir.LockPrincipal(ctx, "pat-1", "Security incident: INC-1", base)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = dir.LockPrincipal(ctx, "pat-1", "Security incident: INC-2", base)
	require.NoError(t, err)
	assert.False(t, changed)
}
