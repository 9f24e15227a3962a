package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/orchestrator"
	"github.com/jbweber/homelab/forge/internal/repository"
)

// HostResponse is the JSON projection of a host.
type HostResponse struct {
	MAC           string    `json:"mac"`
	Name          string    `json:"name,omitempty"`
	Address       string    `json:"address,omitempty"`
	Profile       string    `json:"profile,omitempty"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	FailureReason string    `json:"failure_reason,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at,omitzero"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

func toHostResponse(h domain.Host) HostResponse {
	return HostResponse{
		MAC:           h.MAC,
		Name:          h.Name,
		Address:       h.Address,
		Profile:       h.ProfileName,
		State:         string(h.State),
		FailureCount:  h.FailureCount,
		FailureReason: h.FailureReason,
		LastSeenAt:    h.LastSeenAt,
		CreatedAt:     h.CreatedAt,
	}
}

// AttemptResponse is the JSON projection of an install attempt.
type AttemptResponse struct {
	AttemptID   string    `json:"attempt_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	Outcome     string    `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// HostDetailResponse bundles a host with its install history.
type HostDetailResponse struct {
	HostResponse
	Attempts []AttemptResponse `json:"attempts"`
}

// listHostsHandler handles GET /api/v0/hosts?state=...
func (a *API) listHostsHandler(w http.ResponseWriter, r *http.Request) {
	state := domain.HostState(r.URL.Query().Get("state"))
	if state != "" && !domain.ValidState(state) {
		writeError(w, http.StatusBadRequest, "unknown state filter")
		return
	}

	hosts, err := a.registry.List(r.Context(), state)
	if err != nil {
		log.Printf("failed to list hosts: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]HostResponse, 0, len(hosts))
	for _, h := range hosts {
		resp = append(resp, toHostResponse(h))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getHostHandler handles GET /api/v0/hosts/{mac}
func (a *API) getHostHandler(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	detail, err := a.orch.Detail(r.Context(), mac)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "host not found")
			return
		}
		if errors.Is(err, repository.ErrInvalidEntity) {
			writeError(w, http.StatusBadRequest, "invalid hardware address")
			return
		}
		log.Printf("failed to get host %s: %v", mac, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HostDetailResponse{HostResponse: toHostResponse(detail.Host)}
	for _, attempt := range detail.Attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			AttemptID:   attempt.AttemptID,
			StartedAt:   attempt.StartedAt,
			EndedAt:     attempt.EndedAt,
			Outcome:     string(attempt.Outcome),
			ErrorDetail: attempt.ErrorDetail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// hostAuditHandler handles GET /api/v0/hosts/{mac}/audit
func (a *API) hostAuditHandler(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	entries, err := a.registry.Audit(r.Context(), mac)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidEntity) {
			writeError(w, http.StatusBadRequest, "invalid hardware address")
			return
		}
		log.Printf("failed to get audit log for %s: %v", mac, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	type auditResponse struct {
		OldState  string    `json:"old_state"`
		NewState  string    `json:"new_state"`
		Reason    string    `json:"reason,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	resp := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditResponse{
			OldState:  string(e.OldState),
			NewState:  string(e.NewState),
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteHostHandler handles DELETE /api/v0/hosts/{mac}. Removal is never
// automatic; this is the operator's escape hatch for decommissioned or
// misregistered machines.
func (a *API) deleteHostHandler(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	if err := a.orch.Forget(r.Context(), mac); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "host not found")
		case errors.Is(err, repository.ErrInvalidEntity):
			writeError(w, http.StatusBadRequest, "invalid hardware address")
		default:
			log.Printf("failed to delete host %s: %v", mac, err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// retryHostHandler handles POST /api/v0/hosts/{mac}/retry. Idempotent only
// while the host is failed; any other state is a conflict.
func (a *API) retryHostHandler(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	if err := a.orch.Retry(r.Context(), mac); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "host not found")
			return
		case errors.Is(err, repository.ErrInvalidEntity):
			writeError(w, http.StatusBadRequest, "invalid hardware address")
			return
		case errors.Is(err, orchestrator.ErrNotRetryable), errors.Is(err, orchestrator.ErrRetryExhausted):
			writeError(w, http.StatusConflict, err.Error())
			return
		default:
			// The retry itself was accepted; the pipeline stalled again
			// afterwards. The host record tells the operator where.
			log.Printf("retry of %s: %v", mac, err)
		}
	}

	host, err := a.registry.Get(r.Context(), mac)
	if err != nil {
		log.Printf("failed to get host %s after retry: %v", mac, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(host))
}
