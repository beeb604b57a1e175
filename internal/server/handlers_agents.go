package server

import (
	"net/http"
	"time"

	"github.com/agentvault/agentvaultd/pkg/types"
)

// listAgents handles GET /api/agents.
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.cfg.Agents.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

type spawnRequest struct {
	AgentPath    string         `json:"agentPath"`
	Message      string         `json:"message,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
}

type spawnResponse struct {
	QueueID   string `json:"queueId"`
	AgentPath string `json:"agentPath"`
}

// spawnAgent handles POST /api/agents/spawn.
func (s *Server) spawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.AgentPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agentPath is required")
		return
	}

	item, err := s.cfg.Orchestrator.Enqueue(&types.QueueItem{
		AgentPath: req.AgentPath,
		Context: types.ExecutionContext{
			Message:        req.Message,
			InitialContext: req.Context,
		},
		Priority:     types.ParsePriority(req.Priority),
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, spawnResponse{QueueID: item.ID, AgentPath: item.AgentPath})
}
