package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/progress/sinks"
)

type fakeStatus struct {
	sources map[string]sinks.SourceStatus
	cycles  sinks.CycleStatus
}

func (f *fakeStatus) Source(id string) (sinks.SourceStatus, bool) {
	st, ok := f.sources[id]
	return st, ok
}

func (f *fakeStatus) Cycles() sinks.CycleStatus {
	return f.cycles
}

func testSources(t *testing.T) []archiver.Source {
	t.Helper()
	root := t.TempDir()
	return []archiver.Source{
		{ID: "front", URL: "http://cam.example/front.jpg", Dir: filepath.Join(root, "front", "images"), Mode: archiver.ModeHTTP},
		{ID: "dash", URL: "https://dash.example/", Dir: filepath.Join(root, "dash", "images"), Mode: archiver.ModeScreenshot},
	}
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	rec := do(t, server.Handler(), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzFollowsReadiness(t *testing.T) {
	t.Parallel()

	ready := false
	server := NewServer(nil, nil, func() bool { return ready }, nil)

	rec := do(t, server.Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = do(t, server.Handler(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, nil)
	do(t, server.Handler(), "/healthz")
	rec := do(t, server.Handler(), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListSourcesIncludesStatus(t *testing.T) {
	t.Parallel()

	status := &fakeStatus{sources: map[string]sinks.SourceStatus{
		"front": {SourceID: "front", Captures: 3, LastFilename: "20240301_120000.jpg"},
	}}
	server := NewServer(testSources(t), status, nil, nil)

	rec := do(t, server.Handler(), "/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []sourceDTO `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 2)
	assert.Equal(t, "front", body.Sources[0].ID)
	require.NotNil(t, body.Sources[0].Status)
	assert.Equal(t, int64(3), body.Sources[0].Status.Captures)
	assert.Equal(t, "dash", body.Sources[1].ID)
	assert.Equal(t, "screenshot", body.Sources[1].Mode)
	assert.Nil(t, body.Sources[1].Status)
}

func TestServer_GetSource(t *testing.T) {
	t.Parallel()

	server := NewServer(testSources(t), nil, nil, nil)

	rec := do(t, server.Handler(), "/v1/sources/front")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "cam.example")

	rec = do(t, server.Handler(), "/v1/sources/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListCaptures(t *testing.T) {
	t.Parallel()

	sources := testSources(t)
	dir := sources[0].Dir
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"20240301_120000.jpg", "20240301_130000.jpg", "20240301_140000.jpg", "latest", ".20240301_150000.jpg.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	server := NewServer(sources, nil, nil, nil)

	rec := do(t, server.Handler(), "/v1/sources/front/captures?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int          `json:"total"`
		Captures []captureDTO `json:"captures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Captures, 2)
	assert.Equal(t, "20240301_140000.jpg", body.Captures[0].Filename)
	assert.Equal(t, "20240301_130000.jpg", body.Captures[1].Filename)
	assert.Equal(t, int64(1), body.Captures[0].Bytes)

	rec = do(t, server.Handler(), "/v1/sources/front/captures?offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Captures)

	rec = do(t, server.Handler(), "/v1/sources/front/captures?limit=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server.Handler(), "/v1/sources/dash/captures")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":0`)
}

func TestServer_Cycles(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, nil)
	rec := do(t, server.Handler(), "/v1/cycles")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status := &fakeStatus{cycles: sinks.CycleStatus{Completed: 4, LastFailed: 1, LastFinishedAt: time.Unix(1700000000, 0).UTC()}}
	server = NewServer(nil, status, nil, nil)
	rec = do(t, server.Handler(), "/v1/cycles")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"completed":4`)
}

func TestParseLimitOffset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{query: "", wantLimit: 100},
		{query: "limit=5&offset=2", wantLimit: 5, wantOffset: 2},
		{query: "limit=5000", wantLimit: 1000},
		{query: "limit=abc", wantErr: true},
		{query: "offset=-3", wantErr: true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tc.query, nil)
		limit, offset, err := parseLimitOffset(req, defaultCaptureLimit, maxCaptureLimit)
		if tc.wantErr {
			require.Error(t, err, tc.query)
			continue
		}
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.wantLimit, limit, tc.query)
		assert.Equal(t, tc.wantOffset, offset, tc.query)
	}
}
