package health_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/health"
	"github.com/amois3/matrixwatcher/internal/sensor"
)

func TestHealthEndpointReportsDegradedOnDisabledSensor(t *testing.T) {
	monitor := sensor.NewMonitor(1, nil)
	monitor.RecordSuccess("crypto")
	monitor.RecordFailure("earthquake", nil)

	srv := health.NewServer(monitor, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
	require.EqualValues(t, 2, body["sensorsTotal"])
	require.EqualValues(t, 1, body["sensorsHealthy"])
}

func TestSensorEndpointReturnsPerSensorView(t *testing.T) {
	monitor := sensor.NewMonitor(3, nil)
	monitor.RecordSuccess("quantum_rng")

	srv := health.NewServer(monitor, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sensor/quantum_rng", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestStoreRestoresMonitorAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := health.OpenStore(dir)
	require.NoError(t, err)

	monitor := sensor.NewMonitor(3, nil)
	monitor.RecordFailure("news", nil)
	require.NoError(t, store.Persist("news", monitor.State("news")))
	require.NoError(t, store.Close())

	reopened, err := health.OpenStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Contains(t, loaded, "news")
	require.Equal(t, 1, loaded["news"].ConsecutiveFailures)

	fresh := sensor.NewMonitor(3, nil)
	fresh.Restore(loaded)
	require.Equal(t, 1, fresh.State("news").ConsecutiveFailures)
}
