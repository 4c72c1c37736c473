// Package httpapi implements the config-manager HTTP surface (§6.2): a
// separate server, defaulting to port 3008, that shares the registry and
// instance store with the MCP-facing transports and lets the React
// configuration UI (out of scope here, an HTTP client of this surface) edit
// instances/tools/prompts/server metadata and the MCP bearer-auth gate.
// Grounded on the corpus's internal/httpapi/server.go (chi router, JSON
// handlers) for routing shape, and YaoApp's helper/jwt.go + helper/password.go
// for the login-token and password-hash patterns.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

var (
	errBadCredentials = errors.New("invalid username or password")
	errTokenRevoked   = errors.New("token has been invalidated")
)

// sessionClaims is the payload of a config-manager login token.
type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthManager holds the config-manager's own login credential and the
// independent MCP-HTTP bearer gate (§6.1's two env vars, made mutable at
// runtime via POST /api/auth/mcp-auth-enabled and
// /api/auth/generate-mcp-token, §6.2).
type AuthManager struct {
	mu           sync.RWMutex
	username     string
	passwordHash []byte

	jwtSecret []byte
	revoked   sync.Map // jti string -> struct{}

	mcpAuthEnabled atomic.Bool
	mcpTokenMu     sync.RWMutex
	mcpToken       string
}

// NewAuthManager builds an AuthManager seeded with username/password (the
// password is bcrypt-hashed immediately; the plaintext is never retained).
// A random JWT signing secret is generated per process if jwtSecret is nil,
// matching the corpus's "ephemeral secret, tokens don't survive a restart"
// posture for a single-operator local config UI.
func NewAuthManager(username, password string, jwtSecret []byte) (*AuthManager, error) {
	if username == "" {
		username = "admin"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash initial password: %w", err)
	}
	if len(jwtSecret) == 0 {
		jwtSecret = randomBytes(32)
	}
	return &AuthManager{username: username, passwordHash: hash, jwtSecret: jwtSecret}, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// fall back to a fixed-size but still process-unique value rather
		// than panicking the server at startup.
		copy(b, []byte(uuid.NewString()))
	}
	return b
}

// Enabled reports whether config-manager login is required at all. An
// empty password hash (zero-length bcrypt hash never happens in practice;
// this guards the zero-value AuthManager used in tests) means auth is off.
func (a *AuthManager) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.passwordHash) > 0
}

// Username returns the configured config-manager username.
func (a *AuthManager) Username() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.username
}

// Login checks username/password and, on match, issues a signed token.
func (a *AuthManager) Login(username, password string) (string, error) {
	a.mu.RLock()
	wantUser, hash := a.username, a.passwordHash
	a.mu.RUnlock()

	if username != wantUser {
		return "", errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", errBadCredentials
	}

	now := time.Now()
	claims := sessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// Validate parses and checks a bearer token, rejecting expired or
// previously-logged-out tokens.
func (a *AuthManager) Validate(tokenString string) (username string, err error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if _, revoked := a.revoked.Load(claims.ID); revoked {
		return "", errTokenRevoked
	}
	return claims.Username, nil
}

// Logout revokes tokenString's jti so Validate rejects it from now on. An
// already-invalid or expired token is simply ignored: there is nothing
// left to revoke.
func (a *AuthManager) Logout(tokenString string) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	})
	if err != nil || claims.ID == "" {
		return
	}
	a.revoked.Store(claims.ID, struct{}{})
}

// ChangePassword replaces the stored credential. newPassword must be at
// least 4 characters (§6.2).
func (a *AuthManager) ChangePassword(newPassword string) error {
	if len(newPassword) < 4 {
		return errors.New("password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.passwordHash = hash
	a.mu.Unlock()
	return nil
}

// MCPAuthStatus reports the live state of the MCP-HTTP bearer gate.
func (a *AuthManager) MCPAuthStatus() (enabled, tokenConfigured bool) {
	a.mcpTokenMu.RLock()
	defer a.mcpTokenMu.RUnlock()
	return a.mcpAuthEnabled.Load(), a.mcpToken != ""
}

// SetMCPAuthEnabled toggles the MCP-HTTP bearer gate.
func (a *AuthManager) SetMCPAuthEnabled(enabled bool) {
	a.mcpAuthEnabled.Store(enabled)
}

// SetMCPToken installs a caller-supplied bearer token (e.g. bootstrapped
// from ODOO_MCP_HTTP_AUTH_TOKEN at startup), distinct from
// GenerateMCPToken's random "shown once" rotation flow.
func (a *AuthManager) SetMCPToken(token string) {
	a.mcpTokenMu.Lock()
	a.mcpToken = token
	a.mcpTokenMu.Unlock()
}

// GenerateMCPToken creates and stores a new random bearer token for the
// MCP-HTTP gate, returned once to the caller (§6.2: "shown once").
func (a *AuthManager) GenerateMCPToken() string {
	token := hex.EncodeToString(randomBytes(24))
	a.mcpTokenMu.Lock()
	a.mcpToken = token
	a.mcpTokenMu.Unlock()
	return token
}

// CheckMCPToken reports whether candidate matches the live MCP-HTTP bearer
// token, for internal/server's gate middleware.
func (a *AuthManager) CheckMCPToken(candidate string) bool {
	if !a.mcpAuthEnabled.Load() {
		return true
	}
	a.mcpTokenMu.RLock()
	defer a.mcpTokenMu.RUnlock()
	return a.mcpToken != "" && candidate == a.mcpToken
}

// MCPAuthEnabled reports whether the MCP-HTTP bearer gate is currently on,
// for internal/server's gate middleware.
func (a *AuthManager) MCPAuthEnabled() bool {
	return a.mcpAuthEnabled.Load()
}
