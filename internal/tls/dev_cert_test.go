package tls

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCertCoversHostsAndIsReused(t *testing.T) {
	gen := NewDevCertGenerator(t.TempDir())
	hosts := []string{"clinic.local", "localhost", "127.0.0.1"}

	first, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	for _, h := range hosts {
		assert.NoError(t, leaf.VerifyHostname(h), h)
	}
	assert.Equal(t, []string{"Clinic SecOps Development"}, leaf.Subject.Organization)

	second, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestGenerateCertRegeneratesForNewHost(t *testing.T) {
	gen := NewDevCertGenerator(t.TempDir())

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	second, err := gen.GenerateCert([]string{"localhost", "api.clinic.local"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}
