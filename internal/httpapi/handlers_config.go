package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// instanceSummary omits credentials from GET /api/config/instances
// responses; secrets never leave the process over this surface.
type instanceSummary struct {
	Name     string `json:"name"`
	BaseURL  string `json:"url"`
	Database string `json:"db,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	HasAuth  bool   `json:"hasAuth"`
}

func (s *Server) handleGetInstances(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	out := make([]instanceSummary, 0, len(snap))
	for name, d := range snap {
		out = append(out, instanceSummary{
			Name:     name,
			BaseURL:  d.BaseURL,
			Database: d.Database,
			Protocol: string(d.Protocol),
			HasAuth:  d.HasAPIKey() || d.HasLegacyCredentials(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"instances": out})
}

// handlePostInstances implements the §6.2 validate-then-write rollback
// contract: the candidate map is normalized and validated in full before
// anything touches disk or the live Store. On any violation the previous
// configuration is left completely untouched and the response carries
// rollback:true plus every collected error.
func (s *Server) handlePostInstances(w http.ResponseWriter, r *http.Request) {
	var candidate config.InstanceMap
	if !s.decodeJSON(w, r, &candidate) {
		return
	}
	if err := config.NormalizeAndValidate(candidate); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    err.Error(),
			"rollback": true,
		})
		return
	}

	if s.instancesPath != "" {
		data, err := json.MarshalIndent(candidate, "", "  ")
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "marshal instances: "+err.Error())
			return
		}
		if err := config.AtomicWriteFile(s.instancesPath, data, 0o644); err != nil {
			s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":    "write instances file: " + err.Error(),
				"rollback": true,
			})
			return
		}
	}

	_, changed, removed := s.store.Diff(candidate)
	s.store.Replace(candidate)
	for _, name := range append(append([]string{}, changed...), removed...) {
		if s.pool != nil {
			s.pool.Invalidate(name)
		}
		if s.cache != nil {
			s.cache.InvalidateInstance(name)
		}
	}
	if s.pool != nil && len(removed) > 0 {
		s.pool.Reconcile()
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.reg.Current().Tools})
}

func (s *Server) handlePostTools(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tools []registry.Tool `json:"tools"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if err := s.reg.SaveTools(body.Tools); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    err.Error(),
			"rollback": true,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetPrompts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": s.reg.Current().Prompts})
}

func (s *Server) handlePostPrompts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompts []registry.Prompt `json:"prompts"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if err := s.reg.SavePrompts(body.Prompts); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    err.Error(),
			"rollback": true,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetServer(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.Current().Server)
}

func (s *Server) handlePostServer(w http.ResponseWriter, r *http.Request) {
	var body registry.Server
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if err := s.reg.SaveServer(body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    err.Error(),
			"rollback": true,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
