package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/gateway"
	"github.com/jbweber/homelab/forge/internal/metrics"
)

// SetRoutePolicyRequest is the body for PUT /api/v0/route.
type SetRoutePolicyRequest struct {
	SubnetCIDR string `json:"subnet_cidr"`
	Uplink     string `json:"uplink"`
	Enabled    bool   `json:"enabled"`
}

// setRoutePolicyHandler handles PUT /api/v0/route. Applying the same policy
// twice is a no-op at the data-path level; a failed apply leaves the
// previous working rules intact.
func (a *API) setRoutePolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req SetRoutePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	policy := domain.RoutePolicy{
		SubnetCIDR: req.SubnetCIDR,
		Uplink:     req.Uplink,
		Enabled:    req.Enabled,
	}

	if err := a.gateway.Apply(policy); err != nil {
		metrics.RouteApplies.WithLabelValues("error").Inc()
		if errors.Is(err, gateway.ErrApply) {
			log.Printf("route policy apply failed: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		log.Printf("route policy apply failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metrics.RouteApplies.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, a.gateway.Status())
}

// getRouteStatusHandler handles GET /api/v0/route.
func (a *API) getRouteStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.gateway.Status())
}
