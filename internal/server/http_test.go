package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letskickk/fact/internal/config"
	"github.com/letskickk/fact/internal/knowledge"
	"github.com/letskickk/fact/internal/metrics"
	"github.com/letskickk/fact/internal/pipeline"
	"github.com/letskickk/fact/internal/protocol"
	"github.com/letskickk/fact/internal/session"
	"github.com/letskickk/fact/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeKnowledge struct {
	docs []knowledge.Document
	err  error
}

func (f fakeKnowledge) Built() bool { return true }
func (f fakeKnowledge) Len() int    { return 42 }
func (f fakeKnowledge) ListDocuments() ([]knowledge.Document, error) {
	return f.docs, f.err
}

type fakeStats struct{}

func (fakeStats) GetStats() transcription.ClientStats {
	return transcription.ClientStats{TotalRequests: 7, SuccessRequests: 6}
}

// idleRunner reports running, waits to be cancelled, then reports stopped
var idleRunner = session.RunnerFunc(func(ctx context.Context, sessionID, streamSource string, emit pipeline.Emitter) int {
	_ = emit.Emit(protocol.NewStatus(sessionID, protocol.StatusRunning, 0))
	<-ctx.Done()
	_ = emit.Emit(protocol.NewStatus(sessionID, protocol.StatusStopped, 0))
	return 0
})

func newTestServer(t *testing.T, kb KnowledgeBase) (*httptest.Server, Deps) {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps := Deps{
		Registry:      session.NewRegistry(testLogger()),
		Runner:        idleRunner,
		Transcription: fakeStats{},
		Knowledge:     kb,
		Metrics:       metrics.NewMetrics(reg),
		Gatherer:      reg,
	}
	cfg := config.ServerConfig{Address: "127.0.0.1", Port: 0, PingInterval: 3600, WriteTimeout: 5, ReadLimitBytes: 1 << 16}
	h := NewHTTPServer(cfg, deps, testLogger())

	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts, deps
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, fakeKnowledge{})

	for _, path := range []string{"/health", "/api/health"} {
		t.Run(path, func(t *testing.T) {
			code, body := getJSON(t, ts.URL+path)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, "ok", body["status"])
			assert.Equal(t, float64(0), body["active_sessions"])
			assert.Equal(t, true, body["knowledge_ready"])
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, fakeKnowledge{})

	resp, err := http.Post(ts.URL+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReferenceFiles(t *testing.T) {
	tests := []struct {
		name     string
		kb       KnowledgeBase
		wantCode int
		wantLen  int
	}{
		{
			name: "lists documents",
			kb: fakeKnowledge{docs: []knowledge.Document{
				{Name: "budget.pdf", Size: "2.0 kB", Bytes: 2048},
				{Name: "notes.txt", Size: "12 B", Bytes: 12},
			}},
			wantCode: http.StatusOK,
			wantLen:  2,
		},
		{
			name:     "empty directory",
			kb:       fakeKnowledge{},
			wantCode: http.StatusOK,
			wantLen:  0,
		},
		{
			name:     "listing fails",
			kb:       fakeKnowledge{err: errors.New("permission denied")},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.kb)
			code, body := getJSON(t, ts.URL+"/api/reference-files")
			require.Equal(t, tt.wantCode, code)
			if tt.wantCode != http.StatusOK {
				return
			}
			files, ok := body["files"].([]interface{})
			require.True(t, ok, "files must be a JSON array")
			assert.Len(t, files, tt.wantLen)
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, fakeKnowledge{})

	code, body := getJSON(t, ts.URL+"/stats")
	require.Equal(t, http.StatusOK, code)

	sessions := body["sessions"].(map[string]interface{})
	assert.Equal(t, float64(0), sessions["active_count"])

	tr := body["transcription"].(map[string]interface{})
	assert.Equal(t, float64(7), tr["total_requests"])

	kb := body["knowledge"].(map[string]interface{})
	assert.Equal(t, float64(42), kb["chunks"])
}

func TestUnknownPathIsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, fakeKnowledge{})

	code, _ := getJSON(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, fakeKnowledge{})

	code, _ := getJSON(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, code)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `fact_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads one frame into its type and raw payload
func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame.Type, frame.Data
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	ts, deps := newTestServer(t, fakeKnowledge{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "start", "streamSource": "https://example.com/live"}))

	typ, data := readEvent(t, conn)
	require.Equal(t, protocol.TypeStatus, typ)
	var status protocol.StatusData
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, protocol.StatusRunning, status.Status)
	assert.Len(t, status.SessionID, 8)
	assert.Equal(t, 1, deps.Registry.Count())

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "stop"}))

	typ, data = readEvent(t, conn)
	require.Equal(t, protocol.TypeStatus, typ)
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, protocol.StatusStopped, status.Status)

	require.Eventually(t, func() bool { return deps.Registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketStartWithoutSource(t *testing.T) {
	ts, deps := newTestServer(t, fakeKnowledge{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "start"}))

	typ, data := readEvent(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	var msg protocol.ErrorData
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "streamSource is required", msg.Message)
	assert.Equal(t, 0, deps.Registry.Count())
}

func TestWebSocketDisconnectCancelsSession(t *testing.T) {
	ts, deps := newTestServer(t, fakeKnowledge{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "start", "streamSource": "src"}))
	typ, _ := readEvent(t, conn)
	require.Equal(t, protocol.TypeStatus, typ)
	require.Equal(t, 1, deps.Registry.Count())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return deps.Registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
