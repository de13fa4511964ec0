package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("POST", 0)
	m.ObserveReconnect()
	m.ObserveWSMessage("task_update")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("task_update")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", 500)
	m.ObserveRetry("list")
	m.WatcherStarted()
	m.WatcherStopped()
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveTaskFinished("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `casegen_tasks_finished_total{status="completed"} 1`))
}
