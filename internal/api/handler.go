// Package api provides HTTP handlers for managing monitored services
// and reading incident state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/bissquit/sentinel/internal/incidents"
	"github.com/bissquit/sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/sentinel/internal/pkg/httputil"
	"github.com/bissquit/sentinel/internal/registry"
)

// Pagination constants.
const (
	DefaultIncidentsLimit = 50
	MaxIncidentsLimit     = 200
)

// ServiceWriter persists registry changes. It is optional; without it
// the registry is process-local only.
type ServiceWriter interface {
	CreateService(ctx context.Context, svc *domain.ServiceConfig) error
	DeleteService(ctx context.Context, id string) error
}

// IncidentReader lists incidents from durable storage, newest first.
// It is optional; without it the incident list only covers the
// current process lifetime.
type IncidentReader interface {
	ListIncidents(ctx context.Context, limit int) ([]domain.Incident, error)
}

// Handler handles HTTP requests for services and incidents.
type Handler struct {
	registry    *registry.Registry
	store       *incidents.Store
	notifier    *events.Notifier
	persistence ServiceWriter
	history     IncidentReader
	validator   *validator.Validate
}

// NewHandler creates a new API handler. persistence and history may
// be nil.
func NewHandler(reg *registry.Registry, store *incidents.Store, notifier *events.Notifier, persistence ServiceWriter, history IncidentReader) *Handler {
	return &Handler{
		registry:    reg,
		store:       store,
		notifier:    notifier,
		persistence: persistence,
		history:     history,
		validator:   validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the API module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/services", func(r chi.Router) {
		r.Get("/", h.ListServices)
		r.Post("/", h.CreateService)
		r.Get("/{id}", h.GetService)
		r.Patch("/{id}", h.UpdateService)
		r.Delete("/{id}", h.DeleteService)
	})

	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
	})
}

// CreateServiceRequest represents the request body for registering a
// service for monitoring.
type CreateServiceRequest struct {
	Name            string `json:"name" validate:"required,min=1,max=255"`
	URL             string `json:"url" validate:"required,url"`
	IntervalSeconds int    `json:"check_interval" validate:"omitempty,min=1,max=86400"`
}

// CreateService handles POST /services request.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	interval := req.IntervalSeconds
	if interval == 0 {
		interval = 60
	}

	svc, err := h.registry.Add(req.Name, req.URL, interval)
	if err != nil {
		h.handleRegistryError(r.Context(), w, err)
		return
	}

	if h.persistence != nil {
		if err := h.persistence.CreateService(r.Context(), svc); err != nil {
			ctxlog.FromContext(r.Context()).Error("persist service failed",
				"service_id", svc.ID, "error", err)
		}
	}

	h.notifier.Emit(events.TypeServiceAdded, events.Payload{
		"service_id":     svc.ID,
		"name":           svc.Name,
		"url":            svc.URL,
		"check_interval": svc.IntervalSeconds,
	})

	httputil.Success(w, http.StatusCreated, svc)
}

// ListServices handles GET /services request.
func (h *Handler) ListServices(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.registry.List())
}

// GetService handles GET /services/{id} request.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.handleRegistryError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, svc)
}

// UpdateServiceRequest represents the request body for updating a
// monitored service. Both fields are optional.
type UpdateServiceRequest struct {
	Active          *bool `json:"is_active"`
	IntervalSeconds *int  `json:"check_interval" validate:"omitempty,min=1,max=86400"`
}

// UpdateService handles PATCH /services/{id} request.
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if req.IntervalSeconds != nil {
		if err := h.registry.SetInterval(id, *req.IntervalSeconds); err != nil {
			h.handleRegistryError(r.Context(), w, err)
			return
		}
	}
	if req.Active != nil {
		if err := h.registry.SetActive(id, *req.Active); err != nil {
			h.handleRegistryError(r.Context(), w, err)
			return
		}
	}

	svc, err := h.registry.Get(id)
	if err != nil {
		h.handleRegistryError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, svc)
}

// DeleteService handles DELETE /services/{id} request.
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	svc, err := h.registry.Get(id)
	if err != nil {
		h.handleRegistryError(r.Context(), w, err)
		return
	}

	if err := h.registry.Remove(id); err != nil {
		h.handleRegistryError(r.Context(), w, err)
		return
	}

	if h.persistence != nil {
		if err := h.persistence.DeleteService(r.Context(), id); err != nil {
			ctxlog.FromContext(r.Context()).Error("delete persisted service failed",
				"service_id", id, "error", err)
		}
	}

	h.notifier.Emit(events.TypeServiceRemoved, events.Payload{
		"service_id": svc.ID,
		"name":       svc.Name,
		"url":        svc.URL,
	})

	httputil.JSON(w, http.StatusNoContent, nil)
}

// ListIncidents handles GET /incidents?limit=N request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultIncidentsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > MaxIncidentsLimit {
			limit = MaxIncidentsLimit
		}
	}

	current := h.store.List(limit)
	if h.history == nil {
		httputil.Success(w, http.StatusOK, current)
		return
	}

	stored, err := h.history.ListIncidents(r.Context(), limit)
	if err != nil {
		// Degrade to the in-process view rather than failing the
		// request.
		ctxlog.FromContext(r.Context()).Error("list persisted incidents failed", "error", err)
		httputil.Success(w, http.StatusOK, current)
		return
	}

	httputil.Success(w, http.StatusOK, mergeIncidents(current, stored, limit))
}

// mergeIncidents combines the in-process incident view with the
// durable history. The in-memory copy wins on id collisions since it
// may carry transitions not yet persisted.
func mergeIncidents(current, stored []domain.Incident, limit int) []domain.Incident {
	seen := make(map[string]struct{}, len(current))
	merged := make([]domain.Incident, 0, len(current)+len(stored))
	for _, inc := range current {
		seen[inc.ID] = struct{}{}
		merged = append(merged, inc)
	}
	for _, inc := range stored {
		if _, ok := seen[inc.ID]; ok {
			continue
		}
		merged = append(merged, inc)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].DetectedAt.After(merged[j].DetectedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
			{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound},
		})
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

func (h *Handler) handleRegistryError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.HandleError(ctx, w, err, []httputil.ErrorMapping{
		{Error: registry.ErrServiceNotFound, Status: http.StatusNotFound},
		{Error: registry.ErrInvalidInterval, Status: http.StatusBadRequest},
		{Error: registry.ErrEmptyURL, Status: http.StatusBadRequest},
	})
}
