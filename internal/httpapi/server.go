package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// Server is the config-manager HTTP surface (§6.2), a chi router sharing
// the live registry and instance store with the MCP-facing transports.
// Grounded on the corpus's internal/httpapi/server.go route layout
// (middleware stack, /api/v1 routing, writeJSON/writeError helpers).
type Server struct {
	router        *chi.Mux
	reg           *registry.Registry
	store         *config.Store
	instancesPath string
	pool          *pool.Pool
	cache         *cache.Cache
	auth          *AuthManager
	logger        *zap.Logger
	corsOrigins   []string
}

// EnvCORSOrigins names the comma-separated allowed-origins env var (§6.4).
const EnvCORSOrigins = "ODOO_MCP_CORS_ORIGINS"

// New builds a Server and wires its routes. instancesPath may be empty if
// instances are sourced from an inline env var, in which case POST
// /api/config/instances updates the live Store only (nothing to persist).
// corsOrigins is the parsed value of ODOO_MCP_CORS_ORIGINS; an empty slice
// falls back to allowing any origin.
func New(reg *registry.Registry, store *config.Store, instancesPath string, p *pool.Pool, c *cache.Cache, auth *AuthManager, corsOrigins []string, logger *zap.Logger) *Server {
	s := &Server{router: chi.NewRouter(), reg: reg, store: store, instancesPath: instancesPath, pool: p, cache: c, auth: auth, corsOrigins: corsOrigins, logger: logger}
	s.setupRoutes()
	return s
}

// allowedOrigin reports the Access-Control-Allow-Origin value for a request
// bearing the given Origin header, honoring an operator-supplied allowlist
// (ODOO_MCP_CORS_ORIGINS) and falling back to "*" when none is configured.
func (s *Server) allowedOrigin(requestOrigin string) string {
	if len(s.corsOrigins) == 0 {
		return "*"
	}
	for _, allowed := range s.corsOrigins {
		if allowed == requestOrigin {
			return requestOrigin
		}
	}
	return ""
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Get("/status", s.handleAuthStatus)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.With(s.requireAuth).Post("/change-password", s.handleChangePassword)
		r.With(s.requireAuth).Get("/mcp-auth-status", s.handleMCPAuthStatus)
		r.With(s.requireAuth).Post("/mcp-auth-enabled", s.handleSetMCPAuthEnabled)
		r.With(s.requireAuth).Post("/generate-mcp-token", s.handleGenerateMCPToken)
	})

	s.router.Route("/api/config", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/instances", s.handleGetInstances)
		r.Post("/instances", s.handlePostInstances)
		r.Get("/tools", s.handleGetTools)
		r.Post("/tools", s.handlePostTools)
		r.Get("/prompts", s.handleGetPrompts)
		r.Post("/prompts", s.handlePostPrompts)
		r.Get("/server", s.handleGetServer)
		r.Post("/server", s.handlePostServer)
	})
}

// requireAuth gates config-manager endpoints behind a valid bearer token.
// The check is skipped only when the Server has no AuthManager or its
// Enabled() is false; NewAuthManager hashes even an empty password, so every
// manager it builds requires a login.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := s.auth.Validate(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		_ = username
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && s.logger != nil {
		s.logger.Error("httpapi: failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
