// Package postgres provides the PostgreSQL persistence layer for
// services and incidents.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/sentinel/internal/domain"
)

// Repository errors.
var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrIncidentNotFound = errors.New("incident not found")
)

// Repository implements durable storage using PostgreSQL. The
// in-memory registry and incident store stay authoritative at
// runtime; the repository exists so state survives restarts.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateService stores a monitored service.
func (r *Repository) CreateService(ctx context.Context, svc *domain.ServiceConfig) error {
	query := `
		INSERT INTO services (id, name, url, check_interval, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		svc.ID,
		svc.Name,
		svc.URL,
		svc.IntervalSeconds,
		svc.Active,
		svc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

// DeleteService removes a monitored service.
func (r *Repository) DeleteService(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// ListServices returns all stored services ordered by creation time.
// Used to reload the registry on startup.
func (r *Repository) ListServices(ctx context.Context) ([]domain.ServiceConfig, error) {
	query := `
		SELECT id, name, url, check_interval, is_active, created_at
		FROM services
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []domain.ServiceConfig
	for rows.Next() {
		var svc domain.ServiceConfig
		if err := rows.Scan(
			&svc.ID,
			&svc.Name,
			&svc.URL,
			&svc.IntervalSeconds,
			&svc.Active,
			&svc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return services, nil
}

// CreateIncident stores a new incident with its current timeline.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	timeline, err := json.Marshal(incident.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		INSERT INTO incidents (
			id, service_id, service_name, service_url, status, severity,
			detected_at, alerted_at, resolved_at, mttd_seconds, mttr_seconds,
			error_code, error_message, action_plan, timeline
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.Exec(ctx, query,
		incident.ID,
		incident.ServiceID,
		incident.ServiceName,
		incident.ServiceURL,
		string(incident.Status),
		string(incident.Severity),
		incident.DetectedAt,
		incident.AlertedAt,
		incident.ResolvedAt,
		incident.MTTDSeconds,
		incident.MTTRSeconds,
		incident.ErrorCode,
		incident.ErrorMessage,
		incident.ActionPlan,
		timeline,
	)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// UpdateIncident stores the current lifecycle state of an incident.
func (r *Repository) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	timeline, err := json.Marshal(incident.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		UPDATE incidents
		SET status = $2, alerted_at = $3, resolved_at = $4,
		    mttr_seconds = $5, action_plan = $6, timeline = $7
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		incident.ID,
		string(incident.Status),
		incident.AlertedAt,
		incident.ResolvedAt,
		incident.MTTRSeconds,
		incident.ActionPlan,
		timeline,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// incidentColumns is the column list every incident read uses; scan
// order must match scanIncident.
const incidentColumns = `id, service_id, service_name, service_url, status, severity,
       detected_at, alerted_at, resolved_at, mttd_seconds, mttr_seconds,
       error_code, error_message, action_plan, timeline`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var (
		incident     domain.Incident
		status       string
		severity     string
		errorCode    *int
		errorMessage *string
		actionPlan   *string
		timeline     []byte
	)
	err := row.Scan(
		&incident.ID,
		&incident.ServiceID,
		&incident.ServiceName,
		&incident.ServiceURL,
		&status,
		&severity,
		&incident.DetectedAt,
		&incident.AlertedAt,
		&incident.ResolvedAt,
		&incident.MTTDSeconds,
		&incident.MTTRSeconds,
		&errorCode,
		&errorMessage,
		&actionPlan,
		&timeline,
	)
	if err != nil {
		return nil, err
	}

	incident.Status = domain.IncidentStatus(status)
	incident.Severity = domain.IncidentSeverity(severity)
	if errorCode != nil {
		incident.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		incident.ErrorMessage = *errorMessage
	}
	if actionPlan != nil {
		incident.ActionPlan = *actionPlan
	}
	if err := json.Unmarshal(timeline, &incident.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}

	return &incident, nil
}

// GetIncident retrieves a stored incident by id.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents returns the most recently detected incidents, newest
// first. The incident history is append-only, so this is the audit
// view that survives restarts.
func (r *Repository) ListIncidents(ctx context.Context, limit int) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY detected_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}
