package service

import (
	"testing"
	"time"

	"clinic-secops/internal/hashing"
	"clinic-secops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateSessionToken(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "doc-1", models.RoleDoctor)
	created := f.session(t, "doc-1", models.RoleDoctor)

	id, err := f.services.Identity().Authenticate(f.ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id.Principal.ID)
	assert.Equal(t, created.SessionID, id.SessionID)
}

func TestAuthenticateDirectoryCredential(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "admin-1", models.RoleAdmin)
	require.NoError(t, f.directory.AddCredential(f.ctx, f.hasher.Digest(hashing.ContextCredential, "svc-token"), "admin-1", nil))
	expired := testEpoch.Add(-time.Minute)
	require.NoError(t, f.directory.AddCredential(f.ctx, f.hasher.Digest(hashing.ContextCredential, "old-token"), "admin-1", &expired))

	id, err := f.services.Identity().Authenticate(f.ctx, "svc-token")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id.Principal.ID)
	assert.Empty(t, id.SessionID)

	_, err = f.services.Identity().Authenticate(f.ctx, "old-token")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid authorization token", PublicMessage(err))
}

func TestAuthenticateRejects(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	created := f.session(t, "pat-1", models.RolePatient)
	svc := f.services.Identity()

	_, err := svc.Authenticate(f.ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Authenticate(f.ctx, "not-a-token")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid authorization token", PublicMessage(err))

	_, err = f.directory.LockPrincipal(f.ctx, "pat-1", "manual review", testEpoch)
	require.NoError(t, err)
	_, err = svc.Authenticate(f.ctx, created.Token)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "Account is locked", PublicMessage(err))
}

func TestAuthenticateExpiredSession(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	created := f.session(t, "pat-1", models.RolePatient)

	f.clock.Advance(31 * time.Minute)
	_, err := f.services.Identity().Authenticate(f.ctx, created.Token)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Session expired", PublicMessage(err))
}
