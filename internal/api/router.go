package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Inbound SMS webhook. Authenticated by the gateway's shared
		// secret header (sms.webhook_secret), not a JWT; texting phones
		// don't log in.
		r.Post("/sms/inbound", s.handleInboundSMS)

		// Device channel. Auth is the single-use ticket issued by
		// POST /auth/ws-ticket; browsers can't set an Authorization
		// header on a WebSocket upgrade, so no JWT middleware here.
		r.Get("/ws", s.handleDeviceChannel)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication: a device must log in
			// before it can open a channel.
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/request", s.handleDeviceRequest)
					r.Get("/widgets", s.handleListDeviceWidgets)
					r.Delete("/widgets", s.handleClearDeviceWidgets)
					r.Get("/sms/pending", s.handlePendingSMS)
					r.Delete("/sms/pending/{smsID}", s.handleDeletePendingSMS)
				})
			})

			// Widget endpoints
			r.Route("/widgets", func(r chi.Router) {
				r.Post("/", s.handleCreateWidget)
				r.Get("/global-state", s.handleGetGlobalState)
				r.Patch("/global-state", s.handleUpdateGlobalState)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetWidget)
					r.Delete("/", s.handleRemoveWidget)
					r.Patch("/config", s.handleUpdateWidgetConfig)
					r.Patch("/data", s.handleUpdateWidgetData)
					r.Post("/subscribe", s.handleSubscribeWidget)
					r.Post("/unsubscribe", s.handleUnsubscribeWidget)
				})
			})

			// Phone link management
			r.Route("/sms/links", func(r chi.Router) {
				r.Get("/", s.handleListLinks)
				r.Put("/{phone}", s.handleCreateLink)
				r.Delete("/{phone}", s.handleDeleteLink)
			})
		})
	})

	return r
}

// handleHealth returns the server health status with bridge counters.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"bridge":  s.bridge.Stats(),
	})
}
