package domain

import "time"

// IncidentStatus represents the lifecycle stage of an incident.
// Progression is strictly forward: detecting -> alerting ->
// investigating -> resolved. The type is open so future branches
// (acknowledged, ignored) can be added without schema changes.
type IncidentStatus string

// Incident statuses in lifecycle order.
const (
	IncidentStatusDetecting     IncidentStatus = "detecting"
	IncidentStatusAlerting      IncidentStatus = "alerting"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// rank maps each status to its position in the lifecycle.
var statusRank = map[IncidentStatus]int{
	IncidentStatusDetecting:     0,
	IncidentStatusAlerting:      1,
	IncidentStatusInvestigating: 2,
	IncidentStatusResolved:      3,
}

// IsValid checks if the incident status is known.
func (s IncidentStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved
}

// CanTransitionTo reports whether moving from s to next preserves the
// forward-only ordering of the lifecycle.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// IncidentSeverity classifies the impact of an incident.
type IncidentSeverity string

// Severity levels. High is reserved for server-side failures (5xx).
const (
	IncidentSeverityHigh   IncidentSeverity = "high"
	IncidentSeverityMedium IncidentSeverity = "medium"
)

// SeverityForStatusCode derives severity from the failing status code.
func SeverityForStatusCode(code int) IncidentSeverity {
	if code >= 500 {
		return IncidentSeverityHigh
	}
	return IncidentSeverityMedium
}

// TimelineEvent is one append-only entry in an incident timeline.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
}

// Incident is the tracked lifecycle record for a detected failure.
// It is created when a probe fails with no open incident for the
// service, mutated only by the incident store, and never deleted.
type Incident struct {
	ID          string           `json:"id"`
	ServiceID   string           `json:"service_id"`
	ServiceName string           `json:"service_name"`
	ServiceURL  string           `json:"service_url"`
	Status      IncidentStatus   `json:"status"`
	Severity    IncidentSeverity `json:"severity"`

	DetectedAt time.Time  `json:"detected_at"`
	AlertedAt  *time.Time `json:"alerted_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// MTTDSeconds is computed exactly once, at creation.
	// MTTRSeconds is computed exactly once, at resolution, and is
	// nil while the incident is not resolved.
	MTTDSeconds float64  `json:"mttd_seconds"`
	MTTRSeconds *float64 `json:"mttr_seconds,omitempty"`

	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// ActionPlan holds the opaque output of the external
	// investigation service.
	ActionPlan string `json:"action_plan,omitempty"`

	Timeline []TimelineEvent `json:"timeline"`
}

// AddEvent appends a timeline entry. Insertion order is the timeline
// order; entries are never removed.
func (i *Incident) AddEvent(eventType, description, actor string) {
	i.Timeline = append(i.Timeline, TimelineEvent{
		Timestamp:   time.Now().UTC(),
		Type:        eventType,
		Description: description,
		Actor:       actor,
	})
}
