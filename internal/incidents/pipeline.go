package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
)

// DefaultInvestigationTimeout bounds the external investigation call.
// The original pipeline had no timeout here, which could wedge an
// incident forever; a bound plus the store staleness window keeps the
// service recoverable.
const DefaultInvestigationTimeout = 2 * time.Minute

// Investigator turns a failing service into an action plan. The call
// may take seconds to tens of seconds and is made at most once per
// incident.
type Investigator interface {
	Investigate(ctx context.Context, serviceURL string, incident *domain.Incident) (string, error)
}

// NotificationChannel delivers an incident summary to an external
// sink. Failures are logged and never abort the pipeline.
type NotificationChannel interface {
	Notify(ctx context.Context, incident *domain.Incident) error
}

// PersistenceStore is the durable store for resolved incidents. It is
// optional; the pipeline runs in-memory-only without it.
type PersistenceStore interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	UpdateIncident(ctx context.Context, incident *domain.Incident) error
}

// ErrNoInvestigator is returned when the pipeline reaches the
// investigation stage without a configured investigator; the incident
// stays frozen in the investigating state.
var ErrNoInvestigator = errors.New("no investigator configured")

// Pipeline drives a newly created incident through
// alerting -> investigating -> resolved. Each incident is processed
// sequentially; a collaborator failure freezes the incident at its
// last reached state without affecting the monitoring loop.
type Pipeline struct {
	store        *Store
	channel      NotificationChannel
	investigator Investigator
	persistence  PersistenceStore
	timeout      time.Duration
}

// NewPipeline wires the response pipeline. channel and persistence
// may be nil; investigator may be nil, in which case incidents freeze
// at the investigating state. timeout <= 0 selects the default
// investigation timeout.
func NewPipeline(store *Store, channel NotificationChannel, investigator Investigator, persistence PersistenceStore, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultInvestigationTimeout
	}
	return &Pipeline{
		store:        store,
		channel:      channel,
		investigator: investigator,
		persistence:  persistence,
		timeout:      timeout,
	}
}

// Respond runs the response pipeline for incident id. The returned
// error reports where the pipeline stopped; callers log it and move
// on, they never retry within the same detection.
func (p *Pipeline) Respond(ctx context.Context, id string) error {
	if err := p.store.Transition(id, domain.IncidentStatusAlerting,
		"alerting", "Notifying on-call channel", "responder"); err != nil {
		return err
	}

	incident, err := p.store.Get(id)
	if err != nil {
		return err
	}

	if p.persistence != nil {
		if err := p.persistence.CreateIncident(ctx, incident); err != nil {
			slog.Error("persist incident failed", "incident_id", id, "error", err)
		}
	}

	if p.channel != nil {
		if err := p.channel.Notify(ctx, incident); err != nil {
			// Notification failure is not fatal to the incident:
			// investigation still runs.
			slog.Error("incident notification failed",
				"incident_id", id,
				"error", err,
			)
		}
	}

	if err := p.store.Transition(id, domain.IncidentStatusInvestigating,
		"investigating", "Analyzing root cause", "investigator"); err != nil {
		return err
	}

	if p.investigator == nil {
		slog.Warn("incident frozen: investigation unavailable", "incident_id", id)
		p.persistCurrent(ctx, id)
		return ErrNoInvestigator
	}

	investigateCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	plan, err := p.investigator.Investigate(investigateCtx, incident.ServiceURL, incident)
	if err != nil {
		// Frozen at investigating; the staleness window eventually
		// unblocks new detections for the service. The frozen state
		// is persisted so it survives a restart.
		p.persistCurrent(ctx, id)
		return fmt.Errorf("investigate incident %s: %w", id, err)
	}

	resolved, err := p.store.Resolve(id, plan)
	if err != nil {
		return err
	}

	if p.persistence != nil {
		if err := p.persistence.UpdateIncident(ctx, resolved); err != nil {
			slog.Error("update persisted incident failed", "incident_id", id, "error", err)
		}
	}

	return nil
}

// persistCurrent stores the incident's current state. Used when the
// pipeline freezes before resolution; errors are logged only.
func (p *Pipeline) persistCurrent(ctx context.Context, id string) {
	if p.persistence == nil {
		return
	}
	incident, err := p.store.Get(id)
	if err != nil {
		return
	}
	if err := p.persistence.UpdateIncident(ctx, incident); err != nil {
		slog.Error("update persisted incident failed", "incident_id", id, "error", err)
	}
}
