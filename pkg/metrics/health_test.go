package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistry(version string) {
	registry = &healthRegistry{
		components: make(map[string]componentState),
		startTime:  time.Now(),
		version:    version,
	}
}

func TestRegisterComponent(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", true, "connected")

	components, _, _ := registry.snapshot()
	require.Len(t, components, 1)
	comp := components["storage"]
	assert.True(t, comp.healthy)
	assert.Equal(t, "connected", comp.message)
}

func TestRegisterComponentOverwritesPriorState(t *testing.T) {
	resetRegistry("")
	RegisterComponent("bus", true, "connected")
	RegisterComponent("bus", false, "connection reset")

	components, _, _ := registry.snapshot()
	comp := components["bus"]
	assert.False(t, comp.healthy)
	assert.Equal(t, "connection reset", comp.message)
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetRegistry("1.0.0")
	RegisterComponent("storage", true, "")
	RegisterComponent("bus", true, "")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)
}

func TestGetHealthOneUnhealthyMarksOverallUnhealthy(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", true, "")
	RegisterComponent("bus", false, "not connected")

	health := GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: not connected", health.Components["bus"])
}

func TestGetReadinessAllCriticalComponentsHealthy(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", true, "")
	RegisterComponent("bus", true, "")
	RegisterComponent("hpc_connector", true, "")

	assert.Equal(t, "ready", GetReadiness().Status)
}

func TestGetReadinessMissingCriticalComponent(t *testing.T) {
	resetRegistry("")
	RegisterComponent("hpc_connector", true, "")
	// storage and bus never registered

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.NotEmpty(t, readiness.Message)
	assert.Equal(t, "not registered", readiness.Components["storage"])
}

func TestGetReadinessCriticalComponentUnhealthy(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", false, "connect timeout")
	RegisterComponent("bus", true, "")
	RegisterComponent("hpc_connector", true, "")

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not ready: connect timeout", readiness.Components["storage"])
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	return health
}

func TestHealthHandlerHealthy(t *testing.T) {
	resetRegistry("test")
	RegisterComponent("storage", true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	health := decodeHealth(t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestHealthHandlerUnhealthyReturns503(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", false, "broken")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decodeHealth(t, w).Status)
}

func TestReadyHandlerReady(t *testing.T) {
	resetRegistry("")
	RegisterComponent("storage", true, "")
	RegisterComponent("bus", true, "")
	RegisterComponent("hpc_connector", true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decodeHealth(t, w).Status)
}

func TestReadyHandlerNotReadyReturns503(t *testing.T) {
	resetRegistry("")
	RegisterComponent("hpc_connector", true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", decodeHealth(t, w).Status)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	resetRegistry("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}
