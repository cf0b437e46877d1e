package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
	"github.com/fyrsmithlabs/storyguard/internal/telemetry"
)

func newTestServer(t *testing.T, artifactDir string) *Server {
	t.Helper()
	s, err := NewServer(Config{ArtifactDir: artifactDir}, logging.Nop())
	require.NoError(t, err)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, t.TempDir())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestStatusEndpointNotFoundBeforeFirstRun(t *testing.T) {
	s := newTestServer(t, t.TempDir())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpointServesSinkRecord(t *testing.T) {
	dir := t.TempDir()
	sink, err := telemetry.NewSink(dir, nil)
	require.NoError(t, err)
	require.NoError(t, sink.WriteStatus(telemetry.Status{RunID: "run-9", Stage: "revise"}))

	s := newTestServer(t, dir)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var st telemetry.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "run-9", st.RunID)
	assert.Equal(t, "revise", st.Stage)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, t.TempDir())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestNewServerRequiresLogger(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	assert.Error(t, err)
}
