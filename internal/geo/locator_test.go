package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupLocalNetwork(t *testing.T) {
	l, err := NewLocator("")
	require.NoError(t, err)
	defer l.Close()

	for _, ip := range []string{"192.168.1.20", "10.0.0.7", "unknown", "", "172.16.4.2", "127.0.0.1"} {
		assert.Equal(t, LocalNetwork, l.Lookup(ip), ip)
	}
}

func TestLookupWithoutDatabase(t *testing.T) {
	l, err := NewLocator("")
	require.NoError(t, err)

	assert.Equal(t, Unresolved, l.Lookup("8.8.8.8"))
	assert.Equal(t, Unresolved, l.Lookup("not-an-ip"))
	assert.Equal(t, "Unknown, Unknown (Unknown)", l.Lookup("1.1.1.1").String())
}

func TestNewLocatorMissingFile(t *testing.T) {
	_, err := NewLocator("/nonexistent/GeoLite2-City.mmdb")
	assert.Error(t, err)
}

func TestNilLocator(t *testing.T) {
	var l *Locator
	assert.Equal(t, LocalNetwork, l.Lookup("10.1.1.1"))
	assert.Equal(t, Unresolved, l.Lookup("8.8.4.4"))
	l.Close()
}
