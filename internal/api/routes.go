package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Definitions
	mux.Handle("POST /api/v1/definitions", chain(http.HandlerFunc(h.CreateDefinition)))
	mux.Handle("GET /api/v1/definitions/{id}", chain(http.HandlerFunc(h.GetDefinition)))
	mux.Handle("GET /api/v1/definitions/{id}/versions/{version}", chain(http.HandlerFunc(h.GetDefinitionVersion)))
	mux.Handle("POST /api/v1/definitions/{id}/versions/{version}/publish", chain(http.HandlerFunc(h.PublishDefinition)))
	mux.Handle("POST /api/v1/definitions/{id}/versions/{version}/unpublish", chain(http.HandlerFunc(h.UnpublishDefinition)))

	// Instances
	mux.Handle("POST /api/v1/definitions/{id}/instances", chain(http.HandlerFunc(h.CreateInstance)))
	mux.Handle("GET /api/v1/instances", chain(http.HandlerFunc(h.ListInstances)))
	mux.Handle("GET /api/v1/instances/{id}", chain(http.HandlerFunc(h.GetInstance)))
	mux.Handle("GET /api/v1/instances/{id}/history", chain(http.HandlerFunc(h.GetInstanceHistory)))
	mux.Handle("POST /api/v1/instances/{id}/start", chain(http.HandlerFunc(h.StartInstance)))
	mux.Handle("POST /api/v1/instances/{id}/resume", chain(http.HandlerFunc(h.ResumeInstance)))
	mux.Handle("POST /api/v1/instances/{id}/cancel", chain(http.HandlerFunc(h.CancelInstance)))
	mux.Handle("POST /api/v1/instances/{id}/terminate", chain(http.HandlerFunc(h.TerminateInstance)))
	mux.Handle("POST /api/v1/instances/{id}/retry", chain(http.HandlerFunc(h.RetryInstance)))
	mux.Handle("POST /api/v1/instances/{id}/signal", chain(http.HandlerFunc(h.SignalInstance)))

	// Signals / Events
	mux.Handle("POST /api/v1/signals/{name}", chain(http.HandlerFunc(h.BroadcastSignal)))
	mux.Handle("POST /api/v1/events/{name}", chain(http.HandlerFunc(h.TriggerEvent)))

	// Handlers
	mux.Handle("GET /api/v1/handlers", chain(http.HandlerFunc(h.ListHandlers)))
}
