package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilDiscoveryIsSafe(t *testing.T) {
	var m *Discovery
	m.Datagram("replied")
	m.Announcement(true)
	m.ProbeAttempt()
	m.ProbeResult(false)
	m.BoundPort(5001)
	assert.Nil(t, m.Registry())
}

func scrape(t *testing.T, m *Discovery) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestDiscoveryCounters(t *testing.T) {
	m := NewDiscovery("stedgeai-api")

	m.Datagram("replied")
	m.Datagram("replied")
	m.Datagram("malformed")
	m.Announcement(true)
	m.Announcement(false)
	m.ProbeAttempt()
	m.ProbeResult(true)
	m.BoundPort(5003)

	body := scrape(t, m)
	assert.Contains(t, body, `stedge_discovery_datagrams_total{outcome="replied",service="stedgeai-api"} 2`)
	assert.Contains(t, body, `stedge_discovery_datagrams_total{outcome="malformed",service="stedgeai-api"} 1`)
	assert.Contains(t, body, `stedge_discovery_announcements_total{result="failed",service="stedgeai-api"} 1`)
	assert.Contains(t, body, `stedge_discovery_probe_attempts_total{service="stedgeai-api"} 1`)
	assert.Contains(t, body, `stedge_discovery_probe_results_total{result="found",service="stedgeai-api"} 1`)
	assert.Contains(t, body, `stedge_discovery_bound_port{service="stedgeai-api"} 5003`)
}

func TestRegistryGathers(t *testing.T) {
	m := NewDiscovery("stedgeai-api")
	m.Datagram("ignored")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["stedge_discovery_datagrams_total"])
	assert.True(t, names["go_goroutines"])
}
