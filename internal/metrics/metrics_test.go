package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventHandled("volume_changed")
		m.EventDropped("seeked")
		m.SignalEmitted("Seeked")
		m.SignalFailed("Seeked")
		m.StartupFailed()
		m.Announced(AnnounceShown)
		m.SetAttached(true)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SignalEmitted("PropertiesChanged")
	m.SignalEmitted("PropertiesChanged")
	m.StartupFailed()
	m.SetAttached(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignalsEmitted.WithLabelValues("PropertiesChanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StartupFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InterfaceAttached))
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Announced(AnnounceUnavailable)

	s := NewServer(":0", reg)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `mprisd_announcements_total{outcome="unavailable"} 1`)
}
