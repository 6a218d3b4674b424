// Package incidents owns the in-process incident records, their
// state machine and the response pipeline that drives an incident
// from detection to resolution.
package incidents

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/google/uuid"
)

// DefaultStaleAfter bounds how long a non-terminal incident blocks new
// detections for its service. An incident stuck mid-pipeline (for
// example a hung collaborator) stops deduplicating new failures once
// it is older than this window.
const DefaultStaleAfter = 15 * time.Minute

// Store errors.
var (
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrInvalidTransition = errors.New("invalid incident status transition")
)

// Store is the in-process mapping of incident id to incident record.
// It owns every state transition; probes run concurrently, but all
// incident mutation is serialized here to preserve the single open
// incident invariant per service.
type Store struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	byService map[string]string // service id -> open incident id

	notifier   *events.Notifier
	staleAfter time.Duration
	now        func() time.Time
}

// NewStore creates an incident store emitting lifecycle events on
// notifier. staleAfter <= 0 selects DefaultStaleAfter.
func NewStore(notifier *events.Notifier, staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		incidents:  make(map[string]*domain.Incident),
		byService:  make(map[string]string),
		notifier:   notifier,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// HandleFailure processes an unhealthy probe result. When the service
// already has an open, non-stale incident nothing happens and created
// is false. Otherwise a new incident is opened in the detecting state
// with its MTTD computed once, a detected timeline entry, and an
// incident_created event.
func (s *Store) HandleFailure(svc domain.ServiceConfig, result *domain.ProbeResult) (inc *domain.Incident, created bool) {
	s.mu.Lock()

	if openID, ok := s.byService[svc.ID]; ok {
		open := s.incidents[openID]
		if s.now().Sub(open.DetectedAt) <= s.staleAfter {
			s.mu.Unlock()
			return nil, false
		}
		// The open incident exceeded the staleness window: it stops
		// blocking deduplication but keeps its current state.
		open.AddEvent("stale", "Incident exceeded the staleness window and no longer blocks new detections", "orchestrator")
		delete(s.byService, svc.ID)
		slog.Warn("incident went stale",
			"incident_id", open.ID,
			"service_id", svc.ID,
			"status", open.Status,
		)
	}

	detectedAt := s.now().UTC()
	incident := &domain.Incident{
		ID:           uuid.NewString(),
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		ServiceURL:   svc.URL,
		Status:       domain.IncidentStatusDetecting,
		Severity:     domain.SeverityForStatusCode(result.StatusCode),
		DetectedAt:   detectedAt,
		ErrorCode:    result.StatusCode,
		ErrorMessage: result.Error,
		// Degenerate by construction (detection is the creation
		// moment) but computed here exactly once and preserved.
		MTTDSeconds: s.now().UTC().Sub(detectedAt).Seconds(),
	}
	incident.AddEvent("detected",
		fmt.Sprintf("Service failure detected. Status: %d", result.StatusCode),
		"orchestrator",
	)

	s.incidents[incident.ID] = incident
	s.byService[svc.ID] = incident.ID
	copied := cloneIncident(incident)
	s.mu.Unlock()

	recordIncidentCreated(string(incident.Severity))

	s.notifier.Emit(events.TypeIncidentCreated, events.Payload{
		"incident_id":  incident.ID,
		"service_id":   svc.ID,
		"service_name": svc.Name,
		"severity":     string(incident.Severity),
		"mttd_seconds": incident.MTTDSeconds,
	})

	return copied, true
}

// Transition moves an incident forward to status, appending a
// timeline entry and emitting an incident_updated event. Backward or
// repeated transitions fail with ErrInvalidTransition.
func (s *Store) Transition(id string, status domain.IncidentStatus, eventType, description, actor string) error {
	s.mu.Lock()
	incident, ok := s.incidents[id]
	if !ok {
		s.mu.Unlock()
		return ErrIncidentNotFound
	}
	if !incident.Status.CanTransitionTo(status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, incident.Status, status)
	}

	incident.Status = status
	if status == domain.IncidentStatusAlerting {
		t := s.now().UTC()
		incident.AlertedAt = &t
	}
	incident.AddEvent(eventType, description, actor)
	s.mu.Unlock()

	s.notifier.Emit(events.TypeIncidentUpdated, events.Payload{
		"incident_id": id,
		"status":      string(status),
	})
	return nil
}

// Resolve finalizes an incident: stores the action plan, stamps
// resolved-at, computes MTTR exactly once, transitions to resolved,
// and emits incident_resolved. The service becomes eligible for new
// incidents again.
func (s *Store) Resolve(id, actionPlan string) (*domain.Incident, error) {
	s.mu.Lock()
	incident, ok := s.incidents[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrIncidentNotFound
	}
	if !incident.Status.CanTransitionTo(domain.IncidentStatusResolved) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, incident.Status, domain.IncidentStatusResolved)
	}

	resolvedAt := s.now().UTC()
	mttr := resolvedAt.Sub(incident.DetectedAt).Seconds()

	incident.ActionPlan = actionPlan
	incident.ResolvedAt = &resolvedAt
	incident.MTTRSeconds = &mttr
	incident.Status = domain.IncidentStatusResolved
	incident.AddEvent("resolved", "Action plan generated", "resolver")

	if s.byService[incident.ServiceID] == id {
		delete(s.byService, incident.ServiceID)
	}
	copied := cloneIncident(incident)
	s.mu.Unlock()

	recordIncidentResolved(mttr)

	s.notifier.Emit(events.TypeIncidentResolved, events.Payload{
		"incident_id":  id,
		"mttr_seconds": mttr,
		"action_plan":  truncate(actionPlan, 500),
	})

	return copied, nil
}

// Get returns a copy of an incident by id.
func (s *Store) Get(id string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return cloneIncident(incident), nil
}

// List returns up to limit incident copies, most recent first.
// limit <= 0 returns all.
func (s *Store) List(limit int) []domain.Incident {
	s.mu.Lock()
	out := make([]domain.Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		out = append(out, *cloneIncident(incident))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OpenCount returns the number of non-terminal incidents.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byService)
}

func cloneIncident(in *domain.Incident) *domain.Incident {
	out := *in
	out.Timeline = make([]domain.TimelineEvent, len(in.Timeline))
	copy(out.Timeline, in.Timeline)
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		out.ResolvedAt = &t
	}
	if in.AlertedAt != nil {
		t := *in.AlertedAt
		out.AlertedAt = &t
	}
	if in.MTTRSeconds != nil {
		v := *in.MTTRSeconds
		out.MTTRSeconds = &v
	}
	return &out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
