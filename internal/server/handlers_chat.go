package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/pkg/types"
)

type chatRequest struct {
	Message        string         `json:"message"`
	AgentPath      string         `json:"agentPath,omitempty"`
	DocumentPath   string         `json:"documentPath,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	InitialContext map[string]any `json:"initialContext,omitempty"`
}

// resolveAgentPath implements the documentPath-implies-agentPath fallback:
// a caller chatting about a bound document need not already know which
// agent it names. The first enabled agent entry on the document wins.
func (s *Server) resolveAgentPath(req chatRequest) (string, error) {
	if req.AgentPath != "" {
		return req.AgentPath, nil
	}
	if req.DocumentPath == "" {
		return "", nil
	}
	entries, err := s.cfg.Scanner.GetDocumentAgents(req.DocumentPath)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Enabled {
			return e.AgentPath, nil
		}
	}
	return "", nil
}

func (s *Server) execContextFor(req chatRequest) types.ExecutionContext {
	return types.ExecutionContext{
		Message:        req.Message,
		DocumentPath:   req.DocumentPath,
		SessionID:      req.SessionID,
		InitialContext: req.InitialContext,
	}
}

// postChat handles POST /api/chat.
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	agentPath, err := s.resolveAgentPath(req)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	if agentPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agentPath is required unless documentPath names a bound agent")
		return
	}

	result, err := s.cfg.Orchestrator.RunUnary(r.Context(), agentPath, s.execContextFor(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// postChatStream handles POST /api/chat/stream: the same execution as
// postChat, but every orchestrator event is forwarded over SSE as it
// happens instead of waiting for the terminal result.
func (s *Server) postChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	agentPath, err := s.resolveAgentPath(req)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	if agentPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agentPath is required unless documentPath names a bound agent")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	sse.start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, runErr := s.cfg.Orchestrator.RunStream(r.Context(), agentPath, s.execContextFor(req), func(e event.Event) {
			sse.writeEvent(e)
		})
		if runErr != nil {
			sse.writeEvent(event.Event{Type: event.RunError, Data: map[string]any{"error": runErr.Error()}})
		}
	}()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// listSessions handles GET /api/chat/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	all := s.cfg.Sessions.List()

	archivedFilter := r.URL.Query().Get("archived")
	var filtered []types.SessionSummary
	for _, sess := range all {
		if archivedFilter == "true" && !sess.Archived {
			continue
		}
		if archivedFilter == "false" && sess.Archived {
			continue
		}
		filtered = append(filtered, sess)
	}
	if archivedFilter == "" {
		filtered = all
	}

	sortOrder := r.URL.Query().Get("sort")
	sortSessions(filtered, sortOrder)

	limit := queryInt(r, "limit", len(filtered))
	offset := queryInt(r, "offset", 0)
	page := paginate(filtered, offset, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": page,
		"total":    len(filtered),
	})
}

func sortSessions(sessions []types.SessionSummary, order string) {
	newest := order != "oldest"
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0; j-- {
			var swap bool
			if newest {
				swap = sessions[j].LastAccessed.After(sessions[j-1].LastAccessed)
			} else {
				swap = sessions[j].LastAccessed.Before(sessions[j-1].LastAccessed)
			}
			if !swap {
				break
			}
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}

func paginate(sessions []types.SessionSummary, offset, limit int) []types.SessionSummary {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sessions) {
		return []types.SessionSummary{}
	}
	end := offset + limit
	if limit <= 0 || end > len(sessions) {
		end = len(sessions)
	}
	return sessions[offset:end]
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// getSession handles GET /api/chat/session/{id}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.cfg.Sessions.GetByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /api/chat/session/{id}.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Sessions.DeleteByID(id); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

// archiveSession handles POST /api/chat/session/{id}/archive.
func (s *Server) archiveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Sessions.Archive(id); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

// unarchiveSession handles POST /api/chat/session/{id}/unarchive.
func (s *Server) unarchiveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Sessions.Unarchive(id); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

// deleteSessionLegacy handles DELETE /api/chat/session?agentPath=&documentPath=,
// the pre-session-id clearing contract kept for compatibility.
func (s *Server) deleteSessionLegacy(w http.ResponseWriter, r *http.Request) {
	agentPath := r.URL.Query().Get("agentPath")
	if agentPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agentPath is required")
		return
	}
	documentPath := r.URL.Query().Get("documentPath")
	if err := s.cfg.Sessions.Clear(agentPath, documentPath); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}
