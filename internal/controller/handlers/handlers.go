// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"vlem/internal/catalog"
	"vlem/internal/engine"
	"vlem/internal/logger"
	"vlem/internal/store"
	"vlem/pkg/api"
)

// LabStore combines the store interfaces the controller needs.
type LabStore interface {
	store.LabStore
	store.LogStore
	store.Pinger
}

// TemplateCatalog looks templates up in the remote catalog.
type TemplateCatalog interface {
	ListCatalog(ctx context.Context) ([]catalog.Template, error)
	GetTemplate(ctx context.Context, name string) (*catalog.Template, error)
}

// ContainerInspector lists the containers of a lab.
type ContainerInspector interface {
	LabContainers(ctx context.Context, labID string) ([]engine.Container, error)
}

// Dependencies are the collaborators of the handlers. Containers and Logger
// are optional.
type Dependencies struct {
	Store      LabStore
	Queue      store.Queue
	Catalog    TemplateCatalog
	Containers ContainerInspector
	Logger     *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store      LabStore
	queue      store.Queue
	catalog    TemplateCatalog
	containers ContainerInspector
	logger     *slog.Logger

	// newLabID derives a lab id from a template name.
	newLabID func(template string) string
}

// New creates a new Handlers instance.
func New(deps Dependencies) *Handlers {
	h := &Handlers{
		store:      deps.Store,
		queue:      deps.Queue,
		catalog:    deps.Catalog,
		containers: deps.Containers,
		logger:     deps.Logger,
		newLabID:   NewLabID,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// NewLabID returns "{template}-{12 hex chars}".
func NewLabID(template string) string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return template + "-" + hex.EncodeToString(b[:])
}

func (h *Handlers) log(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context(), h.logger)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// storeError answers a failed store call: 503 when the store is unreachable,
// 500 otherwise.
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.log(r).Error(message, "error", err)
	if errors.Is(err, store.ErrStoreUnavailable) {
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpError(w, message, http.StatusInternalServerError)
}

func labResponse(l *store.Lab) api.LabResponse {
	return api.LabResponse{
		ID:           l.ID,
		TemplateName: l.TemplateName,
		Name:         l.Name,
		Description:  l.Description,
		Status:       string(l.Status),
		ErrorKind:    l.ErrorKind,
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}
