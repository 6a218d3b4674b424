package incidents

import (
	"testing"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService() domain.ServiceConfig {
	return domain.ServiceConfig{
		ID:              "svc-1",
		Name:            "payments",
		URL:             "https://payments.example.com/health",
		IntervalSeconds: 10,
		Active:          true,
	}
}

func failedProbe(status int) *domain.ProbeResult {
	return &domain.ProbeResult{
		ServiceID:  "svc-1",
		StatusCode: status,
		Healthy:    false,
		Error:      "HTTP failure",
	}
}

func TestStore_HandleFailureCreatesIncident(t *testing.T) {
	notifier := events.NewNotifier()
	var emitted []events.Type
	notifier.Register(events.ObserverFunc(func(et events.Type, _ events.Payload) error {
		emitted = append(emitted, et)
		return nil
	}))

	store := NewStore(notifier, 0)
	inc, created := store.HandleFailure(testService(), failedProbe(503))

	require.True(t, created)
	require.NotNil(t, inc)
	assert.Equal(t, domain.IncidentStatusDetecting, inc.Status)
	assert.Equal(t, domain.IncidentSeverityHigh, inc.Severity)
	assert.Equal(t, 503, inc.ErrorCode)
	assert.GreaterOrEqual(t, inc.MTTDSeconds, float64(0))
	assert.Nil(t, inc.MTTRSeconds, "MTTR must be absent before resolution")
	require.Len(t, inc.Timeline, 1)
	assert.Equal(t, "detected", inc.Timeline[0].Type)
	assert.Equal(t, []events.Type{events.TypeIncidentCreated}, emitted)
}

func TestStore_SeverityDerivation(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)

	inc, created := store.HandleFailure(testService(), failedProbe(404))
	require.True(t, created)
	assert.Equal(t, domain.IncidentSeverityMedium, inc.Severity)

	other := testService()
	other.ID = "svc-2"
	inc, created = store.HandleFailure(other, failedProbe(500))
	require.True(t, created)
	assert.Equal(t, domain.IncidentSeverityHigh, inc.Severity)
}

func TestStore_DeduplicatesOpenIncidents(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	svc := testService()

	first, created := store.HandleFailure(svc, failedProbe(500))
	require.True(t, created)

	// Repeated failures for the same service must not open a second
	// incident while one is non-terminal.
	for i := 0; i < 10; i++ {
		inc, created := store.HandleFailure(svc, failedProbe(500))
		assert.False(t, created)
		assert.Nil(t, inc)
	}

	assert.Len(t, store.List(0), 1)
	assert.Equal(t, 1, store.OpenCount())

	// A resolved incident stops blocking new detections.
	require.NoError(t, store.Transition(first.ID, domain.IncidentStatusAlerting, "alerting", "", "responder"))
	require.NoError(t, store.Transition(first.ID, domain.IncidentStatusInvestigating, "investigating", "", "investigator"))
	_, err := store.Resolve(first.ID, "restart the pods")
	require.NoError(t, err)

	_, created = store.HandleFailure(svc, failedProbe(500))
	assert.True(t, created)
	assert.Len(t, store.List(0), 2)
}

func TestStore_StaleIncidentUnblocksService(t *testing.T) {
	store := NewStore(events.NewNotifier(), time.Minute)

	current := time.Now()
	store.now = func() time.Time { return current }

	svc := testService()
	first, created := store.HandleFailure(svc, failedProbe(500))
	require.True(t, created)

	// Within the window the open incident still deduplicates.
	current = current.Add(30 * time.Second)
	_, created = store.HandleFailure(svc, failedProbe(500))
	assert.False(t, created)

	// Past the window a new incident opens and the old one is marked
	// stale but keeps its state.
	current = current.Add(2 * time.Minute)
	second, created := store.HandleFailure(svc, failedProbe(500))
	require.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := store.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusDetecting, old.Status)
	last := old.Timeline[len(old.Timeline)-1]
	assert.Equal(t, "stale", last.Type)
}

func TestStore_TransitionsAreMonotonic(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	inc, _ := store.HandleFailure(testService(), failedProbe(500))

	require.NoError(t, store.Transition(inc.ID, domain.IncidentStatusAlerting, "alerting", "", "responder"))

	// Backward and repeated transitions are rejected.
	err := store.Transition(inc.ID, domain.IncidentStatusDetecting, "detected", "", "orchestrator")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = store.Transition(inc.ID, domain.IncidentStatusAlerting, "alerting", "", "responder")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, store.Transition(inc.ID, domain.IncidentStatusInvestigating, "investigating", "", "investigator"))
	_, err = store.Resolve(inc.ID, "plan")
	require.NoError(t, err)

	// Resolved is terminal.
	err = store.Transition(inc.ID, domain.IncidentStatusInvestigating, "investigating", "", "investigator")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = store.Resolve(inc.ID, "plan again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStore_ResolveComputesMTTROnce(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)

	start := time.Now()
	current := start
	store.now = func() time.Time { return current }

	inc, _ := store.HandleFailure(testService(), failedProbe(500))
	require.NoError(t, store.Transition(inc.ID, domain.IncidentStatusAlerting, "alerting", "", "responder"))
	require.NoError(t, store.Transition(inc.ID, domain.IncidentStatusInvestigating, "investigating", "", "investigator"))

	current = start.Add(42 * time.Second)
	resolved, err := store.Resolve(inc.ID, "scale up")
	require.NoError(t, err)

	require.NotNil(t, resolved.MTTRSeconds)
	assert.InDelta(t, 42, *resolved.MTTRSeconds, 0.01)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "scale up", resolved.ActionPlan)
	assert.GreaterOrEqual(t, *resolved.MTTRSeconds, float64(0))
}

func TestStore_ListOrderAndLimit(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)

	current := time.Now()
	store.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		svc := testService()
		svc.ID = svc.ID + string(rune('a'+i))
		_, created := store.HandleFailure(svc, failedProbe(500))
		require.True(t, created)
		current = current.Add(time.Second)
	}

	all := store.List(0)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].DetectedAt.After(all[i].DetectedAt), "most recent first")
	}

	assert.Len(t, store.List(2), 2)
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(events.NewNotifier(), 0)
	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
