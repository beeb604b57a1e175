package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentvault/agentvaultd/internal/vault"
)

// listDocuments handles GET /api/documents?pattern=, listing vault-relative
// paths. An empty pattern defaults to every file.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "**/*"
	}
	paths, err := s.cfg.Vault.Glob(pattern)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": paths})
}

// getDocumentOrAgents handles GET /api/documents/*, dispatching on the
// wildcard suffix since chi cannot route a "*" in the middle of a path:
// a trailing "/agents" or "/agents/pending" returns the document's agent
// entries instead of the raw document.
func (s *Server) getDocumentOrAgents(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")

	switch {
	case strings.HasSuffix(raw, "/agents/pending"):
		docPath := strings.TrimSuffix(raw, "/agents/pending")
		entries, err := s.cfg.Scanner.GetPending(docPath)
		if err != nil {
			writeDocumentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": entries})

	case strings.HasSuffix(raw, "/agents"):
		docPath := strings.TrimSuffix(raw, "/agents")
		entries, err := s.cfg.Scanner.GetDocumentAgents(docPath)
		if err != nil {
			writeDocumentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": entries})

	default:
		doc, err := s.cfg.Vault.Read(raw)
		if err != nil {
			writeDocumentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func writeDocumentError(w http.ResponseWriter, err error) {
	if errors.Is(err, vault.ErrNotFound) || errors.Is(err, vault.ErrOutsideRoot) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}

type documentAgentsRequest struct {
	Path   string   `json:"path"`
	Agents []string `json:"agents,omitempty"`
}

// runDocumentAgents handles POST /api/documents/run-agents: forces the
// named agents (or every enabled one, if agents is empty) into needs_run
// and nudges a trigger pass so the drain loop picks them up without
// waiting out the poll interval.
func (s *Server) runDocumentAgents(w http.ResponseWriter, r *http.Request) {
	var req documentAgentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}

	var err error
	if len(req.Agents) == 0 {
		err = s.cfg.Scanner.TriggerAll(req.Path)
	} else {
		err = s.cfg.Scanner.Trigger(req.Path, req.Agents)
	}
	if err != nil {
		writeDocumentError(w, err)
		return
	}

	s.cfg.Orchestrator.RunTriggerPass(r.Context())
	writeSuccess(w)
}

// resetDocumentAgents handles POST /api/documents/reset-agents.
func (s *Server) resetDocumentAgents(w http.ResponseWriter, r *http.Request) {
	var req documentAgentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}
	if err := s.cfg.Scanner.Reset(req.Path, req.Agents); err != nil {
		writeDocumentError(w, err)
		return
	}
	writeSuccess(w)
}

// triggerDocument handles POST /api/documents/trigger/*: force every
// enabled agent on the given document into needs_run.
func (s *Server) triggerDocument(w http.ResponseWriter, r *http.Request) {
	docPath := chi.URLParam(r, "*")
	if docPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "document path is required")
		return
	}
	if err := s.cfg.Scanner.TriggerAll(docPath); err != nil {
		writeDocumentError(w, err)
		return
	}
	s.cfg.Orchestrator.RunTriggerPass(r.Context())
	writeSuccess(w)
}
