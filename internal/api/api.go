// Package api exposes the operator-facing control API and the
// installer-facing event callback over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/forge/internal/gateway"
	"github.com/jbweber/homelab/forge/internal/orchestrator"
	"github.com/jbweber/homelab/forge/internal/registry"
	"github.com/jbweber/homelab/forge/internal/repository"
)

// API holds the component dependencies the handlers need.
type API struct {
	registry *registry.Registry
	orch     *orchestrator.Core
	profiles repository.ProfileRepository
	gateway  *gateway.Gateway
}

// NewAPI creates the API over its collaborators.
func NewAPI(reg *registry.Registry, orch *orchestrator.Core, profiles repository.ProfileRepository, gw *gateway.Gateway) *API {
	return &API{
		registry: reg,
		orch:     orch,
		profiles: profiles,
		gateway:  gw,
	}
}

// RegisterRoutes mounts all endpoints on the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/hosts", a.listHostsHandler)
		r.Get("/hosts/{mac}", a.getHostHandler)
		r.Get("/hosts/{mac}/audit", a.hostAuditHandler)
		r.Post("/hosts/{mac}/retry", a.retryHostHandler)
		r.Delete("/hosts/{mac}", a.deleteHostHandler)

		r.Get("/profiles", a.listProfilesHandler)
		r.Get("/profiles/{name}", a.getProfileHandler)
		r.Post("/profiles", a.registerProfileHandler)

		r.Get("/route", a.getRouteStatusHandler)
		r.Put("/route", a.setRoutePolicyHandler)

		r.Post("/events", a.reportEventHandler)
	})
}

// ErrorResponse is the JSON body for every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
