package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/permission"
)

// listPermissions handles GET /api/permissions.
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Permissions.ListPending())
}

// streamPermissions handles GET /api/permissions/stream. On connect it
// replays every currently pending request, then forwards new ones as they
// arrive, so a client attaching mid-session never misses a grant/deny
// window.
func (s *Server) streamPermissions(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	sse.start()

	for _, pending := range s.cfg.Permissions.ListPending() {
		if err := sse.writeEvent(event.Event{Type: event.PermissionRequested, Data: pending}); err != nil {
			return
		}
	}

	events := make(chan event.Event, 16)
	unsub := s.cfg.Bus.Subscribe(permission.Topic, func(e event.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsub()

	done := make(chan struct{})
	defer close(done)
	go sse.runHeartbeatUntil(done)

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(e); err != nil {
				return
			}
		}
	}
}

type permissionDecisionRequest struct {
	Remember bool `json:"remember,omitempty"`
}

// grantPermission handles POST /api/permissions/{id}/grant. A "remember"
// body flag grants the subject for the rest of the session, rather than
// just this one request.
func (s *Server) grantPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req permissionDecisionRequest
	_ = decodeJSON(r, &req) // body is optional; absence just means don't remember

	var ok bool
	if req.Remember {
		ok = s.cfg.Permissions.GrantRemembering(id)
	} else {
		ok = s.cfg.Permissions.Grant(id)
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission request not found or already resolved")
		return
	}
	writeSuccess(w)
}

// denyPermission handles POST /api/permissions/{id}/deny.
func (s *Server) denyPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cfg.Permissions.Deny(id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission request not found or already resolved")
		return
	}
	writeSuccess(w)
}

// checkTriggers handles POST /api/triggers/check, forcing one trigger pass.
func (s *Server) checkTriggers(w http.ResponseWriter, r *http.Request) {
	s.cfg.Orchestrator.RunTriggerPass(r.Context())
	writeSuccess(w)
}
