package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

func newTestServer(t *testing.T, auth *AuthManager) (*Server, *config.Store) {
	t.Helper()
	return newTestServerWithCORS(t, auth, nil)
}

func newTestServerWithCORS(t *testing.T, auth *AuthManager, corsOrigins []string) (*Server, *config.Store) {
	t.Helper()
	reg := registry.New(registry.ResolvePaths(t.TempDir()), nil)
	require.NoError(t, reg.Load())
	store := config.NewStore(config.InstanceMap{})
	p := pool.New(store, nil, nil)
	return New(reg, store, "", p, nil, auth, corsOrigins, nil), store
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledAllowsConfigAccess(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/config/tools", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginAndAccessProtectedEndpoint(t *testing.T) {
	auth, err := NewAuthManager("admin", "secret", nil)
	require.NoError(t, err)
	s, _ := newTestServer(t, auth)

	rec := doJSON(t, s, http.MethodGet, "/api/config/tools", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "secret"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	token := loginResp["token"]
	require.NotEmpty(t, token)

	rec = doJSON(t, s, http.MethodGet, "/api/config/tools", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/auth/logout", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/config/tools", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "logged-out token must be rejected")
}

func TestPostInstancesRollsBackOnInvalidCandidate(t *testing.T) {
	s, store := newTestServer(t, nil)
	store.Replace(config.InstanceMap{
		"default": &config.InstanceDescriptor{Name: "default", BaseURL: "https://good.example", APIKey: "k"},
	})

	rec := doJSON(t, s, http.MethodPost, "/api/config/instances", config.InstanceMap{
		"broken": &config.InstanceDescriptor{Name: "broken"},
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["rollback"])
	assert.NotNil(t, store.Get("default"), "previous instance must survive a rejected update")
}

func TestPostInstancesAcceptsValidCandidate(t *testing.T) {
	s, store := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/config/instances", config.InstanceMap{
		"prod": &config.InstanceDescriptor{BaseURL: "https://prod.example", APIKey: "k"},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, store.Get("prod"))
}

func TestPostToolsRollsBackOnInvalidCandidate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/config/tools", map[string]interface{}{
		"tools": []registry.Tool{{Name: "bad", Op: registry.OperationRef{Type: "not-a-real-op"}}},
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateMCPTokenGatesHTTPTransport(t *testing.T) {
	auth, err := NewAuthManager("admin", "secret", nil)
	require.NoError(t, err)
	s, _ := newTestServer(t, auth)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "secret"}, "")
	var loginResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	token := loginResp["token"]

	rec = doJSON(t, s, http.MethodPost, "/api/auth/mcp-auth-enabled", map[string]bool{"enabled": true}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, auth.CheckMCPToken("anything"), "no token generated yet")

	rec = doJSON(t, s, http.MethodPost, "/api/auth/generate-mcp-token", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var genResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &genResp))
	assert.True(t, auth.CheckMCPToken(genResp["token"]))
}

func TestCORSDefaultsToWildcardWhenUnconfigured(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	s, _ := newTestServerWithCORS(t, nil, []string{"https://allowed.example"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://allowed.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://allowed.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	s, _ := newTestServerWithCORS(t, nil, []string{"https://allowed.example"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
