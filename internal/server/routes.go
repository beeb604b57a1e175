package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes registers the REST surface under /api, gated by the API key
// check and body-size limit.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.limitBody)

		r.Get("/health", s.getHealth)

		r.Get("/agents", s.listAgents)
		r.Post("/agents/spawn", s.spawnAgent)

		r.Post("/chat", s.postChat)
		r.Post("/chat/stream", s.postChatStream)
		r.Get("/chat/sessions", s.listSessions)
		r.Delete("/chat/session", s.deleteSessionLegacy)
		r.Route("/chat/session/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/archive", s.archiveSession)
			r.Post("/unarchive", s.unarchiveSession)
		})

		r.Get("/queue", s.getQueue)
		r.Get("/queue/{id}/stream", s.streamQueueItem)
		r.Post("/queue/process", s.processQueue)

		r.Get("/documents", s.listDocuments)
		r.Get("/documents/*", s.getDocumentOrAgents)
		r.Post("/documents/run-agents", s.runDocumentAgents)
		r.Post("/documents/reset-agents", s.resetDocumentAgents)
		r.Post("/documents/trigger/*", s.triggerDocument)

		r.Get("/permissions", s.listPermissions)
		r.Get("/permissions/stream", s.streamPermissions)
		r.Post("/permissions/{id}/grant", s.grantPermission)
		r.Post("/permissions/{id}/deny", s.denyPermission)

		r.Post("/triggers/check", s.checkTriggers)

		r.Get("/vault", s.getVaultSummary)
		r.Get("/search", s.searchVault)
	})
}
