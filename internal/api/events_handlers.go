package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/orchestrator"
	"github.com/jbweber/homelab/forge/internal/registry"
	"github.com/jbweber/homelab/forge/internal/repository"
)

// ReportEventRequest is the body for POST /api/v0/events, the installer's
// callback. Delivery is at-least-once; duplicates are accepted and ignored.
type ReportEventRequest struct {
	MAC    string `json:"mac"`
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// reportEventHandler handles POST /api/v0/events.
func (a *API) reportEventHandler(w http.ResponseWriter, r *http.Request) {
	var req ReportEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := a.orch.HandleEvent(r.Context(), req.MAC, domain.EventType(req.Type), req.Detail)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "host not found")
		case errors.Is(err, repository.ErrInvalidEntity), errors.Is(err, orchestrator.ErrUnknownEvent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, registry.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("failed to handle %s event for %s: %v", req.Type, req.MAC, err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
