package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"vlem/internal/engine"
	"vlem/internal/store"
	"vlem/pkg/api"
)

const (
	defaultLabLimit = 10
	maxLabLimit     = 100
)

// ListLabs handles GET /labs.
// Query: name (substring), status, sort_by=created_at|updated_at,
// sort_order=asc|desc, limit, offset.
func (h *Handlers) ListLabs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLabFilter(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	labs, err := h.store.ListLabs(r.Context(), filter)
	if err != nil {
		h.storeError(w, r, "Failed to list labs", err)
		return
	}

	resp := api.ListLabsResponse{
		Labs:   make([]api.LabResponse, len(labs)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for i := range labs {
		resp.Labs[i] = labResponse(&labs[i])
	}
	h.respondJson(w, http.StatusOK, resp)
}

func parseLabFilter(r *http.Request) (store.LabFilter, error) {
	query := r.URL.Query()
	filter := store.LabFilter{
		Name:     query.Get("name"),
		SortBy:   store.SortByCreatedAt,
		SortDesc: true,
		Limit:    defaultLabLimit,
	}

	if s := query.Get("status"); s != "" {
		status, err := store.ParseLabStatus(s)
		if err != nil {
			return filter, fmt.Errorf("invalid status %q", s)
		}
		filter.Status = status
	}

	switch s := query.Get("sort_by"); s {
	case "", store.SortByCreatedAt:
	case store.SortByUpdatedAt:
		filter.SortBy = s
	default:
		return filter, fmt.Errorf("invalid sort_by %q: use created_at or updated_at", s)
	}

	switch s := query.Get("sort_order"); s {
	case "", "desc":
	case "asc":
		filter.SortDesc = false
	default:
		return filter, fmt.Errorf("invalid sort_order %q: use asc or desc", s)
	}

	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return filter, fmt.Errorf("invalid limit %q", l)
		}
		filter.Limit = min(parsed, maxLabLimit)
	}

	if o := query.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return filter, fmt.Errorf("invalid offset %q", o)
		}
		filter.Offset = parsed
	}

	return filter, nil
}

// GetLab handles GET /labs/{id}.
func (h *Handlers) GetLab(w http.ResponseWriter, r *http.Request) {
	lab, ok := h.loadLab(w, r)
	if !ok {
		return
	}
	h.respondJson(w, http.StatusOK, labResponse(lab))
}

// DeleteLab handles DELETE /labs/{id}.
// Teardown runs on a worker; the record disappears once it finishes.
// A lab whose provisioning attempt has not finished is rejected with 409 so
// a teardown never runs alongside it.
func (h *Handlers) DeleteLab(w http.ResponseWriter, r *http.Request) {
	lab, ok := h.loadLab(w, r)
	if !ok {
		return
	}

	if !lab.Status.Terminal() {
		h.httpError(w, fmt.Sprintf("Lab is %s; retry once provisioning finishes", lab.Status), http.StatusConflict)
		return
	}

	if err := h.queue.Enqueue(r.Context(), lab.ID, store.JobTypeTeardown); err != nil {
		h.log(r).Error("failed to enqueue teardown", "lab_id", lab.ID, "error", err)
		h.httpError(w, "Job queue unavailable", http.StatusServiceUnavailable)
		return
	}

	h.log(r).Info("lab teardown queued", "lab_id", lab.ID)
	h.respondJson(w, http.StatusAccepted, api.DeleteLabResponse{
		Message: fmt.Sprintf("Teardown of lab '%s' accepted.", lab.ID),
		ID:      lab.ID,
		Status:  api.Accepted,
	})
}

// GetLabContainers handles GET /labs/{id}/containers.
func (h *Handlers) GetLabContainers(w http.ResponseWriter, r *http.Request) {
	if h.containers == nil {
		h.httpError(w, "Container engine not configured", http.StatusServiceUnavailable)
		return
	}

	lab, ok := h.loadLab(w, r)
	if !ok {
		return
	}

	containers, err := h.containers.LabContainers(r.Context(), lab.ID)
	if err != nil {
		h.log(r).Error("failed to list containers", "lab_id", lab.ID, "error", err)
		if errors.Is(err, engine.ErrUnavailable) {
			h.httpError(w, "Container engine unavailable", http.StatusServiceUnavailable)
			return
		}
		h.httpError(w, "Failed to list containers", http.StatusInternalServerError)
		return
	}

	resp := api.ListContainersResponse{Containers: make([]api.ContainerResponse, len(containers))}
	for i, c := range containers {
		ports := make([]api.PortBinding, len(c.Ports))
		for j, p := range c.Ports {
			ports[j] = api.PortBinding{
				HostIP:        p.HostIP,
				HostPort:      p.HostPort,
				ContainerPort: p.ContainerPort,
				Protocol:      p.Protocol,
			}
		}
		resp.Containers[i] = api.ContainerResponse{
			ID:        c.ID,
			Name:      c.Name,
			Service:   c.Service,
			Image:     c.Image,
			State:     c.State,
			Status:    c.Status,
			Ports:     ports,
			CreatedAt: c.CreatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// loadLab fetches the lab named by the {id} path value and answers the
// request itself when that fails.
func (h *Handlers) loadLab(w http.ResponseWriter, r *http.Request) (*store.Lab, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.httpError(w, "Invalid lab id", http.StatusBadRequest)
		return nil, false
	}

	lab, err := h.store.GetLab(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Lab not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.storeError(w, r, "Failed to load lab", err)
		return nil, false
	}
	return lab, true
}
