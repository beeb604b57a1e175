package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentvault/agentvaultd/internal/event"
)

// getQueue handles GET /api/queue, returning items grouped by status.
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Queue.Snapshot())
}

// processQueue handles POST /api/queue/process, nudging the drain loop to
// claim pending items immediately instead of waiting out its poll interval.
func (s *Server) processQueue(w http.ResponseWriter, r *http.Request) {
	s.cfg.Orchestrator.RequestDrain()
	writeSuccess(w)
}

// streamQueueItem handles GET /api/queue/{id}/stream, forwarding every
// event published on that item's execution topic until the client
// disconnects.
func (s *Server) streamQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events := make(chan event.Event, 16)
	unsub, err := s.cfg.Orchestrator.StreamQueueItem(id, func(e event.Event) {
		select {
		case events <- e:
		default:
		}
	})
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	defer unsub()

	sse.start()

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
			if e.Type == event.RunDone || e.Type == event.RunError || e.Type == event.RunClose {
				return
			}
		}
	}
}
