package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/dispatcher"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/mcpsession"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

func newTestHandler(t *testing.T) *mcpsession.Handler {
	t.Helper()
	reg := registry.New(registry.ResolvePaths(t.TempDir()), nil)
	require.NoError(t, reg.Load())
	store := config.NewStore(config.InstanceMap{})
	dbPath := t.TempDir() + "/cache.db"
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := cache.New(db, cache.DefaultTTL, nil)
	require.NoError(t, err)
	p := pool.New(store, nil, nil)
	disp := dispatcher.New(reg, p, c, func(string) string { return "" }, nil)
	return mcpsession.New(reg, disp, p, store, func(string) string { return "" }, nil)
}

type fakeGate struct {
	enabled bool
	token   string
}

func (g *fakeGate) MCPAuthEnabled() bool            { return g.enabled }
func (g *fakeGate) CheckMCPToken(candidate string) bool { return candidate == g.token }

func TestHealthEndpoint(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStreamablePostInitializeAssignsSessionID(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(sessionHeader)
	assert.NotEmpty(t, sessionID)

	var resp mcpsession.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestStreamableDeleteRequiresSessionHeader(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamableDeleteTerminatesSession(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	id := s.streamable.create()

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeader, id)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.streamable.exists(id))
}

func TestGateRejectsMissingToken(t *testing.T) {
	s := New(":0", newTestHandler(t), &fakeGate{enabled: true, token: "secret"}, "odoo-mcp", nil)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateAcceptsValidToken(t *testing.T) {
	s := New(":0", newTestHandler(t), &fakeGate{enabled: true, token: "secret"}, "odoo-mcp", nil)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLegacySSEEndpointEventAndMessageRoundTrip(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	httpSrv := httptest.NewServer(s.mux)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	frame := string(buf[:n])
	require.Contains(t, frame, "event: endpoint")
	require.Contains(t, frame, "/messages?sessionId=")

	idx := strings.Index(frame, "sessionId=")
	sessionID := strings.TrimSpace(frame[idx+len("sessionId="):])
	sessionID = strings.TrimSuffix(sessionID, "\n")

	msgResp, err := http.Post(httpSrv.URL+"/messages?sessionId="+url.QueryEscape(sessionID), "application/json",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	require.NoError(t, err)
	defer msgResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, msgResp.StatusCode)
}

func TestWebSocketRoundTrip(t *testing.T) {
	s := New(":0", newTestHandler(t), nil, "odoo-mcp", nil)
	httpSrv := httptest.NewServer(s.mux)
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp mcpsession.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Nil(t, resp.Error)
}

func TestRunStdioEchoesResponses(t *testing.T) {
	h := newTestHandler(t)
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n")
	var out bytes.Buffer
	err := RunStdio(context.Background(), h, in, &out, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"jsonrpc":"2.0"`)
}
