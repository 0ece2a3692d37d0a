package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dv-atlas/internal/report"
	"github.com/sells-group/dv-atlas/internal/store"
)

func testServer(t *testing.T, st store.Store) (*Server, Options) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		ImagesDir:      filepath.Join(dir, "images"),
		ReportsDir:     filepath.Join(dir, "reports"),
		AllowedOrigins: []string{"https://atlas.example.org"},
		RatePerSecond:  1000,
		Burst:          1000,
	}
	return NewServer(st, opts), opts
}

func sqliteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, nil)
	rec := get(t, s.Routes(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","store":false}`, rec.Body.String())
}

func TestRunsWithoutStore(t *testing.T) {
	s, _ := testServer(t, nil)
	rec := get(t, s.Routes(), "/api/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no store configured")
}

func TestRuns(t *testing.T) {
	st := sqliteStore(t)
	ctx := context.Background()
	for _, cmd := range []string{"moran", "lisa"} {
		run, err := st.CreateRun(ctx, cmd, map[string]string{"target": "DVCper1000iH"})
		require.NoError(t, err)
		require.NoError(t, st.CompleteRun(ctx, run.ID, map[string]int{"n": 36}))
	}
	s, _ := testServer(t, st)
	h := s.Routes()

	rec := get(t, h, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = get(t, h, "/api/runs?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = get(t, h, "/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEmpty(t *testing.T) {
	s, _ := testServer(t, sqliteStore(t))
	rec := get(t, s.Routes(), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestReports(t *testing.T) {
	s, opts := testServer(t, nil)
	h := s.Routes()

	rec := get(t, h, "/api/reports")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.NoError(t, report.Write(filepath.Join(opts.ReportsDir, "moran_DVCper1000iH.yaml"), report.MoranSummary{
		Variable:     "DVCper1000iH",
		Observations: 36,
		I:            0.61,
		PSim:         math.NaN(),
	}))

	rec = get(t, h, "/api/reports")
	assert.JSONEq(t, `["moran_DVCper1000iH.yaml"]`, rec.Body.String())

	rec = get(t, h, "/api/reports/moran_DVCper1000iH.yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "DVCper1000iH", doc["variable"])
	assert.InDelta(t, 0.61, doc["i"], 1e-12)
	assert.Contains(t, doc, "p_sim")
	assert.Nil(t, doc["p_sim"])

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/reports/lisa_DVCper1000iH.yaml").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/reports/notes.txt").Code)
}

func TestFigures(t *testing.T) {
	s, opts := testServer(t, nil)
	require.NoError(t, os.MkdirAll(opts.ImagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opts.ImagesDir, "12_moran_I.svg"), []byte("<svg/>"), 0o644))

	rec := get(t, s.Routes(), "/figures/12_moran_I.svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s.Routes(), "/figures/99_missing.png").Code)
}

func TestCORS(t *testing.T) {
	s, _ := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://atlas.example.org")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, "https://atlas.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example.org")
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := NewServer(nil, Options{RatePerSecond: 0.001, Burst: 1})
	h := s.Routes()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestFinite(t *testing.T) {
	in := map[string]any{
		"a": math.Inf(1),
		"b": []any{1.5, math.NaN()},
		"c": map[string]any{"d": math.NaN(), "e": "x"},
	}
	assert.Equal(t, map[string]any{
		"a": nil,
		"b": []any{1.5, nil},
		"c": map[string]any{"d": nil, "e": "x"},
	}, finite(in))
}
