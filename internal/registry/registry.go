// Package registry holds the in-memory set of monitored services.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/google/uuid"
)

// Registry errors.
var (
	ErrServiceNotFound = errors.New("service not found")
	ErrInvalidInterval = errors.New("probe interval must be at least 1 second")
	ErrEmptyURL        = errors.New("service url must not be empty")
)

// Registry is the authoritative in-memory mapping of service id to
// probe configuration. All mutation goes through its methods; reads
// return copies so callers never share mutable state.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*domain.ServiceConfig
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]*domain.ServiceConfig)}
}

// Add registers a new service and returns its stored copy.
func (r *Registry) Add(name, url string, intervalSeconds int) (*domain.ServiceConfig, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	if intervalSeconds < 1 {
		return nil, ErrInvalidInterval
	}

	svc := &domain.ServiceConfig{
		ID:              uuid.NewString(),
		Name:            name,
		URL:             url,
		IntervalSeconds: intervalSeconds,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	r.mu.Lock()
	r.services[svc.ID] = svc
	r.mu.Unlock()

	slog.Debug("service registered", "service_id", svc.ID, "name", name, "url", url)

	copied := *svc
	return &copied, nil
}

// Restore inserts a previously persisted service as-is, keeping its
// id and creation time. Used when reloading state on startup.
func (r *Registry) Restore(svc domain.ServiceConfig) {
	r.mu.Lock()
	copied := svc
	r.services[svc.ID] = &copied
	r.mu.Unlock()
}

// Remove deletes a service from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[id]; !ok {
		return ErrServiceNotFound
	}
	delete(r.services, id)
	slog.Debug("service removed", "service_id", id)
	return nil
}

// Get returns a copy of the service with the given id.
func (r *Registry) Get(id string) (*domain.ServiceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	copied := *svc
	return &copied, nil
}

// SetActive flips the active flag of a service.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[id]
	if !ok {
		return ErrServiceNotFound
	}
	svc.Active = active
	return nil
}

// SetInterval updates the probe interval of a service.
func (r *Registry) SetInterval(id string, intervalSeconds int) error {
	if intervalSeconds < 1 {
		return ErrInvalidInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[id]
	if !ok {
		return ErrServiceNotFound
	}
	svc.IntervalSeconds = intervalSeconds
	return nil
}

// List returns copies of all services ordered by creation time.
func (r *Registry) List() []domain.ServiceConfig {
	r.mu.RLock()
	out := make([]domain.ServiceConfig, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, *svc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Active returns copies of all active services.
func (r *Registry) Active() []domain.ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ServiceConfig, 0, len(r.services))
	for _, svc := range r.services {
		if svc.Active {
			out = append(out, *svc)
		}
	}
	return out
}

// MinActiveInterval returns the shortest interval across active
// services; ok is false when no service is active.
func (r *Registry) MinActiveInterval() (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var min time.Duration
	found := false
	for _, svc := range r.services {
		if !svc.Active {
			continue
		}
		if !found || svc.Interval() < min {
			min = svc.Interval()
			found = true
		}
	}
	return min, found
}
