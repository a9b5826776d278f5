package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlssplit/internal/engine"
	"github.com/jmylchreest/hlssplit/internal/http/middleware"
	"github.com/jmylchreest/hlssplit/internal/observability"
	"github.com/jmylchreest/hlssplit/internal/segment"
)

type fixedStatus struct {
	status engine.Status
}

func (f fixedStatus) Status() engine.Status {
	return f.status
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	status := fixedStatus{status: engine.Status{
		State:       "streaming",
		Stream:      "h264 320x240 tb=1/90000",
		OpenSegment: "20240501120100",
		LastClosed:  &segment.Info{Name: "20240501120000", Duration: time.Minute, Packets: 1800},
		Segments:    1,
		Packets:     2000,
	}}
	cfg := DefaultServerConfig("127.0.0.1:0")
	cfg.OutputDir = t.TempDir()
	srv := NewServer(cfg, status, nil, "1.2.3")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestServer_Status(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	getJSON(t, ts.URL+"/status", &body)

	assert.Equal(t, "streaming", body["state"])
	assert.Equal(t, "20240501120100", body["open_segment"])
	assert.EqualValues(t, 2000, body["packets"])
	last, ok := body["last_closed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "20240501120000", last["name"])
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.NotEmpty(t, body["uptime"])
}

func TestServer_LogLevel(t *testing.T) {
	_, ts := newTestServer(t)
	t.Cleanup(func() { observability.SetLogLevel("info") })

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/log-level", strings.NewReader(`{"level":"debug"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", observability.GetLogLevel())

	var body map[string]any
	getJSON(t, ts.URL+"/log-level", &body)
	assert.Equal(t, "debug", body["level"])
}

func TestServer_LogLevelRejectsUnknown(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/log-level", strings.NewReader(`{"level":"loud"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_RequestID(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(middleware.RequestIDHeader))

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestServer_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/segments")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	srv := NewServer(DefaultServerConfig("127.0.0.1:0"), fixedStatus{}, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ListenError(t *testing.T) {
	srv := NewServer(DefaultServerConfig("256.0.0.1:99999"), fixedStatus{}, nil, "")
	assert.Error(t, srv.ListenAndServe(context.Background()))
}
