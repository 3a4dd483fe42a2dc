package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickhouseAddr(t *testing.T) {
	tests := []struct {
		raw    string
		addr   string
		secure bool
	}{
		{"localhost", "localhost:9000", false},
		{"clickhouse:9440", "clickhouse:9440", false},
		{"http://analytics.internal", "analytics.internal:9000", false},
		{"https://analytics.internal:9440", "analytics.internal:9440", true},
	}
	for _, tt := range tests {
		addr, secure, err := clickhouseAddr(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.addr, addr)
		assert.Equal(t, tt.secure, secure)
	}

	_, _, err := clickhouseAddr("")
	assert.Error(t, err)
}

func TestBackendTLS(t *testing.T) {
	cfg, err := backendTLS("Redis", "", "", "", "redis.internal")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)

	_, err = backendTLS("Redis", filepath.Join(t.TempDir(), "missing.pem"), "", "", "")
	assert.ErrorContains(t, err, "failed to read Redis CA file")
}
