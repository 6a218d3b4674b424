package incidents

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvestigator struct {
	plan  string
	err   error
	calls int
}

func (f *fakeInvestigator) Investigate(_ context.Context, _ string, _ *domain.Incident) (string, error) {
	f.calls++
	return f.plan, f.err
}

type fakeChannel struct {
	err      error
	notified []string
}

func (f *fakeChannel) Notify(_ context.Context, incident *domain.Incident) error {
	f.notified = append(f.notified, incident.ID)
	return f.err
}

type fakePersistence struct {
	created []domain.Incident
	updated []domain.Incident
}

func (f *fakePersistence) CreateIncident(_ context.Context, incident *domain.Incident) error {
	f.created = append(f.created, *incident)
	return nil
}

func (f *fakePersistence) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	f.updated = append(f.updated, *incident)
	return nil
}

func TestPipeline_RespondResolvesIncident(t *testing.T) {
	notifier := events.NewNotifier()
	var emitted []events.Type
	notifier.Register(events.ObserverFunc(func(et events.Type, _ events.Payload) error {
		emitted = append(emitted, et)
		return nil
	}))

	store := NewStore(notifier, 0)
	channel := &fakeChannel{}
	investigator := &fakeInvestigator{plan: "1. Restart the service\n2. Check disk space"}
	persistence := &fakePersistence{}
	pipeline := NewPipeline(store, channel, investigator, persistence, 0)

	inc, created := store.HandleFailure(testService(), failedProbe(500))
	require.True(t, created)

	require.NoError(t, pipeline.Respond(context.Background(), inc.ID))

	resolved, err := store.Get(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, resolved.Status)
	assert.Equal(t, investigator.plan, resolved.ActionPlan)
	assert.NotNil(t, resolved.AlertedAt)
	assert.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.MTTRSeconds)
	assert.GreaterOrEqual(t, *resolved.MTTRSeconds, float64(0))

	// Timeline carries the full progression in order.
	types := make([]string, 0, len(resolved.Timeline))
	for _, ev := range resolved.Timeline {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"detected", "alerting", "investigating", "resolved"}, types)

	assert.Equal(t, []string{inc.ID}, channel.notified)
	assert.Equal(t, 1, investigator.calls)

	require.Len(t, persistence.created, 1)
	assert.Equal(t, domain.IncidentStatusAlerting, persistence.created[0].Status)
	require.Len(t, persistence.updated, 1)
	assert.Equal(t, domain.IncidentStatusResolved, persistence.updated[0].Status)

	assert.Equal(t, []events.Type{
		events.TypeIncidentCreated,
		events.TypeIncidentUpdated,
		events.TypeIncidentUpdated,
		events.TypeIncidentResolved,
	}, emitted)
}

func TestPipeline_NotificationFailureIsNotFatal(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	channel := &fakeChannel{err: errors.New("webhook unreachable")}
	investigator := &fakeInvestigator{plan: "rollback"}
	pipeline := NewPipeline(store, channel, investigator, nil, 0)

	inc, _ := store.HandleFailure(testService(), failedProbe(500))

	require.NoError(t, pipeline.Respond(context.Background(), inc.ID))

	resolved, err := store.Get(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, resolved.Status)
}

func TestPipeline_InvestigatorFailureFreezesIncident(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	investigator := &fakeInvestigator{err: errors.New("analysis backend down")}
	persistence := &fakePersistence{}
	pipeline := NewPipeline(store, nil, investigator, persistence, 0)

	inc, _ := store.HandleFailure(testService(), failedProbe(500))

	err := pipeline.Respond(context.Background(), inc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, investigator.err)

	frozen, getErr := store.Get(inc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.IncidentStatusInvestigating, frozen.Status)
	assert.Nil(t, frozen.MTTRSeconds)
	assert.Nil(t, frozen.ResolvedAt)

	// The frozen state reaches the durable store, not just memory.
	require.Len(t, persistence.updated, 1)
	assert.Equal(t, domain.IncidentStatusInvestigating, persistence.updated[0].Status)

	// The frozen incident still blocks new detections for the service.
	_, created := store.HandleFailure(testService(), failedProbe(500))
	assert.False(t, created)
}

func TestPipeline_NoInvestigatorConfigured(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	persistence := &fakePersistence{}
	pipeline := NewPipeline(store, nil, nil, persistence, 0)

	inc, _ := store.HandleFailure(testService(), failedProbe(500))

	err := pipeline.Respond(context.Background(), inc.ID)
	assert.ErrorIs(t, err, ErrNoInvestigator)

	frozen, getErr := store.Get(inc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.IncidentStatusInvestigating, frozen.Status)

	require.Len(t, persistence.updated, 1)
	assert.Equal(t, domain.IncidentStatusInvestigating, persistence.updated[0].Status)
}

func TestPipeline_UnknownIncident(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	pipeline := NewPipeline(store, nil, &fakeInvestigator{}, nil, 0)

	err := pipeline.Respond(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
