package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vlem/internal/catalog"
	"vlem/internal/store"
	"vlem/pkg/api"
)

// ListTemplates handles GET /templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.catalog.ListCatalog(r.Context())
	if err != nil {
		h.catalogError(w, r, err)
		return
	}

	resp := make([]api.TemplateResponse, len(templates))
	for i, t := range templates {
		resp[i] = api.TemplateResponse{
			Name:        t.Name,
			Title:       t.Title,
			Description: t.Description,
			Logo:        t.Logo,
			Category:    t.Category,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CreateLab handles POST /templates/{name}/labs.
// It records a QUEUED lab and enqueues its provisioning; the build itself
// happens on a worker.
func (h *Handlers) CreateLab(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	var req api.CreateLabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	template, err := h.catalog.GetTemplate(ctx, name)
	if err != nil {
		h.catalogError(w, r, err)
		return
	}

	now := time.Now().UTC()
	lab := &store.Lab{
		ID:           h.newLabID(template.Name),
		TemplateName: template.Name,
		Name:         req.Name,
		Description:  req.Description,
		Status:       store.LabStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if lab.Name == "" {
		lab.Name = template.Name
	}
	if lab.Description == "" {
		lab.Description = fmt.Sprintf("Provisioning %s...", template.Name)
	}

	if err := h.store.CreateLab(ctx, lab); err != nil {
		h.storeError(w, r, "Failed to create lab", err)
		return
	}

	if err := h.queue.Enqueue(ctx, lab.ID, store.JobTypeProvision); err != nil {
		// Without a job the record would sit in QUEUED forever.
		if derr := h.store.DeleteLab(ctx, lab.ID); derr != nil {
			h.log(r).Error("failed to remove unqueued lab", "lab_id", lab.ID, "error", derr)
		}
		h.log(r).Error("failed to enqueue provisioning", "lab_id", lab.ID, "error", err)
		h.httpError(w, "Job queue unavailable", http.StatusServiceUnavailable)
		return
	}

	h.log(r).Info("lab queued", "lab_id", lab.ID, "template", template.Name)
	h.respondJson(w, http.StatusAccepted, api.CreateLabResponse{
		Message: fmt.Sprintf("Lab creation from template '%s' accepted. Building in background.", template.Name),
		ID:      lab.ID,
		Status:  api.Accepted,
	})
}

func (h *Handlers) catalogError(w http.ResponseWriter, r *http.Request, err error) {
	h.log(r).Warn("catalog request failed", "error", err)
	switch {
	case errors.Is(err, catalog.ErrTemplateNotFound):
		h.httpError(w, "Template not found", http.StatusNotFound)
	case errors.Is(err, catalog.ErrCatalogEmpty):
		h.httpError(w, "No lab templates found in the catalog", http.StatusNotFound)
	case errors.Is(err, catalog.ErrCatalogUnavailable), errors.Is(err, catalog.ErrCatalogFormatInvalid):
		h.httpError(w, "Template catalog unavailable", http.StatusBadGateway)
	default:
		h.httpError(w, "Failed to query template catalog", http.StatusInternalServerError)
	}
}
