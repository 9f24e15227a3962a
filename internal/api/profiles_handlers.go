package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/forge/internal/bootcfg"
	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/repository"
)

// RegisterProfileRequest is the body for POST /api/v0/profiles.
type RegisterProfileRequest struct {
	Name            string `json:"name"`
	TargetOS        string `json:"target_os"`
	PartitionPolicy string `json:"partition_policy"`
	InstallSource   string `json:"install_source"`
	KernelArgs      string `json:"kernel_args,omitempty"`
}

// ProfileResponse is the JSON projection of a boot profile version.
type ProfileResponse struct {
	Name            string    `json:"name"`
	Version         int       `json:"version"`
	TargetOS        string    `json:"target_os"`
	PartitionPolicy string    `json:"partition_policy,omitempty"`
	InstallSource   string    `json:"install_source"`
	KernelArgs      string    `json:"kernel_args,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
}

func toProfileResponse(p domain.BootProfile) ProfileResponse {
	return ProfileResponse{
		Name:            p.Name,
		Version:         p.Version,
		TargetOS:        p.TargetOS,
		PartitionPolicy: p.PartitionPolicy,
		InstallSource:   p.InstallSource,
		KernelArgs:      p.KernelArgs,
		CreatedAt:       p.CreatedAt,
	}
}

// registerProfileHandler handles POST /api/v0/profiles. Registering an
// existing name creates the next version; in-flight installs keep the
// version they started with.
func (a *API) registerProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Name == "" || req.TargetOS == "" || req.InstallSource == "" {
		writeError(w, http.StatusBadRequest, "name, target_os and install_source are required")
		return
	}

	// Reject sources the renderer would refuse later, while the operator
	// is still watching.
	candidate := domain.BootProfile{
		Name:            req.Name,
		TargetOS:        req.TargetOS,
		PartitionPolicy: req.PartitionPolicy,
		InstallSource:   req.InstallSource,
		KernelArgs:      req.KernelArgs,
	}
	if err := bootcfg.ValidateProfile(candidate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := a.profiles.Save(r.Context(), candidate)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidEntity) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("failed to register profile %s: %v", req.Name, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toProfileResponse(saved))
}

// getProfileHandler handles GET /api/v0/profiles/{name}. Returns the latest
// version unless ?version= pins an older one.
func (a *API) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var profile domain.BootProfile
	var err error
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, parseErr := strconv.Atoi(raw)
		if parseErr != nil || version < 1 {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		profile, err = a.profiles.FindByNameAndVersion(r.Context(), name, version)
	} else {
		profile, err = a.profiles.FindLatestByName(r.Context(), name)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		log.Printf("failed to get profile %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// listProfilesHandler handles GET /api/v0/profiles, returning the latest
// version of each profile.
func (a *API) listProfilesHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := a.profiles.FindLatestVersions(r.Context())
	if err != nil {
		log.Printf("failed to list profiles: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
