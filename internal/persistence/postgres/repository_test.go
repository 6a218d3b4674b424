//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/testutil"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	migrator, err := migrate.New(
		"file://../../../migrations",
		pgContainer.ConnectionString,
	)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func newService() *domain.ServiceConfig {
	return &domain.ServiceConfig{
		ID:              uuid.NewString(),
		Name:            "payments",
		URL:             "https://payments.example.com/health",
		IntervalSeconds: 30,
		Active:          true,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func newIncident(serviceID string) *domain.Incident {
	return &domain.Incident{
		ID:           uuid.NewString(),
		ServiceID:    serviceID,
		ServiceName:  "payments",
		ServiceURL:   "https://payments.example.com/health",
		Status:       domain.IncidentStatusAlerting,
		Severity:     domain.IncidentSeverityHigh,
		DetectedAt:   time.Now().UTC().Truncate(time.Microsecond),
		MTTDSeconds:  0,
		ErrorCode:    500,
		ErrorMessage: "HTTP failure",
		Timeline: []domain.TimelineEvent{
			{Timestamp: time.Now().UTC(), Type: "detected", Description: "Service failure detected. Status: 500", Actor: "orchestrator"},
		},
	}
}

func TestRepository_ServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	svc := newService()
	require.NoError(t, repo.CreateService(ctx, svc))

	services, err := repo.ListServices(ctx)
	require.NoError(t, err)

	var found *domain.ServiceConfig
	for i := range services {
		if services[i].ID == svc.ID {
			found = &services[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, svc.Name, found.Name)
	assert.Equal(t, svc.URL, found.URL)
	assert.Equal(t, svc.IntervalSeconds, found.IntervalSeconds)
	assert.True(t, found.Active)

	require.NoError(t, repo.DeleteService(ctx, svc.ID))
	assert.ErrorIs(t, repo.DeleteService(ctx, svc.ID), ErrServiceNotFound)
}

func TestRepository_IncidentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	incident := newIncident(uuid.NewString())
	require.NoError(t, repo.CreateIncident(ctx, incident))

	stored, err := repo.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusAlerting, stored.Status)
	assert.Equal(t, domain.IncidentSeverityHigh, stored.Severity)
	assert.Equal(t, 500, stored.ErrorCode)
	assert.Nil(t, stored.MTTRSeconds)
	require.Len(t, stored.Timeline, 1)
	assert.Equal(t, "detected", stored.Timeline[0].Type)

	resolvedAt := time.Now().UTC().Truncate(time.Microsecond)
	mttr := resolvedAt.Sub(incident.DetectedAt).Seconds()
	incident.Status = domain.IncidentStatusResolved
	incident.ResolvedAt = &resolvedAt
	incident.MTTRSeconds = &mttr
	incident.ActionPlan = "1. Restart the service"
	incident.Timeline = append(incident.Timeline, domain.TimelineEvent{
		Timestamp: resolvedAt, Type: "resolved", Description: "Action plan generated", Actor: "resolver",
	})
	require.NoError(t, repo.UpdateIncident(ctx, incident))

	stored, err = repo.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, stored.Status)
	assert.Equal(t, "1. Restart the service", stored.ActionPlan)
	require.NotNil(t, stored.MTTRSeconds)
	assert.InDelta(t, mttr, *stored.MTTRSeconds, 0.001)
	assert.Len(t, stored.Timeline, 2)
}

func TestRepository_ListIncidentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	older := newIncident(uuid.NewString())
	older.DetectedAt = time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Microsecond)
	newer := newIncident(uuid.NewString())
	newer.DetectedAt = time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	require.NoError(t, repo.CreateIncident(ctx, older))
	require.NoError(t, repo.CreateIncident(ctx, newer))

	incidents, err := repo.ListIncidents(ctx, 100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(incidents), 2)

	// Newest first, and the rows carry the full incident record.
	assert.Equal(t, newer.ID, incidents[0].ID)
	assert.Equal(t, domain.IncidentSeverityHigh, incidents[0].Severity)
	require.Len(t, incidents[0].Timeline, 1)
	for i := 1; i < len(incidents); i++ {
		assert.False(t, incidents[i].DetectedAt.After(incidents[i-1].DetectedAt))
	}

	limited, err := repo.ListIncidents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}

func TestRepository_IncidentNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	_, err := repo.GetIncident(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	incident := newIncident(uuid.NewString())
	assert.ErrorIs(t, repo.UpdateIncident(ctx, incident), ErrIncidentNotFound)
}
