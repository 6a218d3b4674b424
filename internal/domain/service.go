package domain

import "time"

// ServiceConfig describes a single monitored service.
// Instances are owned by the registry; only the probe interval and
// the active flag may change after creation.
type ServiceConfig struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	IntervalSeconds int       `json:"check_interval"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Interval returns the probe interval as a duration.
func (s *ServiceConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}
