package httpapi

import "net/http"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	enabled := s.auth != nil && s.auth.Enabled()
	resp := map[string]interface{}{"auth_enabled": enabled}
	if enabled {
		if token := bearerToken(r); token != "" {
			if username, err := s.auth.Validate(token); err == nil {
				resp["authenticated"] = true
				resp["username"] = username
				s.writeJSON(w, http.StatusOK, resp)
				return
			}
		}
		resp["authenticated"] = false
	} else {
		resp["authenticated"] = true
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if token := bearerToken(r); token != "" {
			s.auth.Logout(token)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.ChangePassword(req.NewPassword); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMCPAuthStatus(w http.ResponseWriter, _ *http.Request) {
	enabled, configured := s.auth.MCPAuthStatus()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          enabled,
		"token_configured": configured,
	})
}

func (s *Server) handleSetMCPAuthEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.auth.SetMCPAuthEnabled(req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGenerateMCPToken(w http.ResponseWriter, _ *http.Request) {
	token := s.auth.GenerateMCPToken()
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
