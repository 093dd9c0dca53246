package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorHooks(t *testing.T) {
	c := NewCollector(2, 5*time.Second, time.Minute)

	c.LocationIngested("driver", true)
	c.LocationIngested("driver", true)
	c.LocationIngested("simulator", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.LocationsIngested.WithLabelValues("driver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LocationsStale))

	c.NotificationSentInc("arrived")
	c.NotificationSuppressedInc("arrived")
	c.NotificationSuppressedInc("arrived")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Notifications.WithLabelValues("arrived", "sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Notifications.WithLabelValues("arrived", "suppressed")))

	c.NATSSetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	c.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))

	c.MonitoredSet(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.MonitoredBuses))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SpeedMultiplier))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.PollInterval))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(1, time.Second, time.Second)
	c.StopTransition("arrived")
	c.HTTPObserve("/api/buses", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tracker_stop_transitions_total{to="arrived"} 1`)
	assert.Contains(t, body, `tracker_http_request_duration_seconds_count{code="200",route="/api/buses"} 1`)
}
