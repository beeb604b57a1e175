package server

import "net/http"

// getVaultSummary handles GET /api/vault, reporting the root path and
// overall document count.
func (s *Server) getVaultSummary(w http.ResponseWriter, r *http.Request) {
	paths, err := s.cfg.Vault.Glob("**/*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":          s.cfg.Vault.Root(),
		"documentCount": len(paths),
	})
}

// searchVault handles GET /api/search?q=.
func (s *Server) searchVault(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "q is required")
		return
	}
	results, err := s.cfg.Vault.Search(query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
