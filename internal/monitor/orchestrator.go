// Package monitor runs the continuous health checking loop: it fans
// probes out over the active services, publishes health_check events,
// and hands failures to the incident pipeline.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/bissquit/sentinel/internal/incidents"
	"github.com/bissquit/sentinel/internal/registry"
)

// Defaults for the monitoring loop.
const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 10 * time.Second
	DefaultMaxProbes    = 20
)

// Prober performs a single health check against a URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string, timeout time.Duration) (*domain.ProbeResult, error)
}

// Config tunes the orchestrator loop.
type Config struct {
	// Interval is the sleep between cycles when no active service
	// declares its own.
	Interval time.Duration
	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration
	// MaxProbes caps how many probes run concurrently in one cycle.
	MaxProbes int
}

// Orchestrator owns the monitoring loop. One instance runs per
// process; Run blocks until the context is cancelled and returns only
// after in-flight probes and incident responses have finished.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	prober   Prober
	store    *incidents.Store
	pipeline *incidents.Pipeline
	notifier *events.Notifier

	responders sync.WaitGroup
}

// New creates an orchestrator. Zero config fields fall back to the
// package defaults.
func New(cfg Config, reg *registry.Registry, prober Prober, store *incidents.Store, pipeline *incidents.Pipeline, notifier *events.Notifier) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		prober:   prober,
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
	}
}

// Run executes monitoring cycles until ctx is cancelled. Each cycle
// probes every active service concurrently, waits for all probes to
// finish, then sleeps for the shortest active interval.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("monitoring loop started",
		"interval", o.cfg.Interval,
		"probe_timeout", o.cfg.ProbeTimeout,
		"max_probes", o.cfg.MaxProbes,
	)

	for {
		o.runCycle(ctx)

		if !sleepCtx(ctx, o.sleepFor()) {
			break
		}
	}

	o.responders.Wait()
	slog.Info("monitoring loop stopped")
}

// runCycle probes all active services and joins before returning.
// A service failing mid-cycle never delays the others beyond the
// probe timeout.
func (o *Orchestrator) runCycle(ctx context.Context) {
	services := o.registry.Active()
	if len(services) == 0 {
		return
	}

	started := time.Now()
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxProbes)

	for _, svc := range services {
		g.Go(func() error {
			o.checkService(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	observeCycle(len(services), time.Since(started))
	setOpenIncidents(o.store.OpenCount())
}

func (o *Orchestrator) checkService(ctx context.Context, svc domain.ServiceConfig) {
	result, err := o.prober.Probe(ctx, svc.URL, o.cfg.ProbeTimeout)
	if err != nil {
		slog.Error("probe rejected", "service_id", svc.ID, "url", svc.URL, "error", err)
		return
	}
	result.ServiceID = svc.ID

	recordProbe(result)

	o.notifier.Emit(events.TypeHealthCheck, events.Payload{
		"service_id":       svc.ID,
		"service_name":     svc.Name,
		"url":              svc.URL,
		"is_healthy":       result.Healthy,
		"status_code":      result.StatusCode,
		"response_time_ms": result.ResponseTimeMS,
		"timestamp":        result.CheckedAt.Format(time.RFC3339),
	})

	if result.Healthy {
		return
	}

	slog.Warn("service unhealthy",
		"service_id", svc.ID,
		"name", svc.Name,
		"status_code", result.StatusCode,
		"classification", result.Class,
	)

	incident, created := o.store.HandleFailure(svc, result)
	if !created {
		return
	}

	// The response pipeline can take minutes (external investigation);
	// it must never delay the next monitoring cycle.
	o.responders.Add(1)
	go func() {
		defer o.responders.Done()
		if err := o.pipeline.Respond(ctx, incident.ID); err != nil {
			slog.Error("incident response stopped",
				"incident_id", incident.ID,
				"service_id", svc.ID,
				"error", err,
			)
		}
	}()
}

// sleepFor returns the shortest interval among active services, or
// the configured default when none declares one.
func (o *Orchestrator) sleepFor() time.Duration {
	if min, ok := o.registry.MinActiveInterval(); ok {
		return min
	}
	return o.cfg.Interval
}

// sleepCtx sleeps for d and reports false when ctx was cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
