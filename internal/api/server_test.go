package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/engine"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ReportLifecycle(t *testing.T) {
	t.Parallel()

	srv := NewServer(zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/report", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	report := engine.NewRunReport(time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC))
	report.Add(engine.SourceReport{Source: "nature", Saved: 2})
	report.Finish(time.Date(2026, 3, 12, 10, 5, 0, 0, time.UTC))
	srv.SetReport(report)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/report", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got engine.RunReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "nature", got.Sources[0].Source)
	assert.Equal(t, 2, got.Sources[0].Saved)
}

func TestRequestIDFrom(t *testing.T) {
	t.Parallel()

	srv := NewServer(zap.NewNop())
	var seen string
	srv.router.Get("/echo", func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), seen)
}
