package domain

import "time"

// ProbeClass classifies why a probe failed. Empty for successful probes.
type ProbeClass string

// Probe failure taxonomy. Each class carries a fixed message prefix
// set by the prober; none of them is ever retried within one probe.
const (
	ProbeClassForbiddenTarget      ProbeClass = "forbidden_target"
	ProbeClassTimeout              ProbeClass = "timeout"
	ProbeClassConnectionError      ProbeClass = "connection_error"
	ProbeClassTLSError             ProbeClass = "tls_error"
	ProbeClassRedirectLoopExceeded ProbeClass = "redirect_loop_exceeded"
	ProbeClassUnknownError         ProbeClass = "unknown_error"
)

// TLSSummary holds the result of the independent certificate check.
type TLSSummary struct {
	Valid           bool   `json:"valid"`
	Issuer          string `json:"issuer,omitempty"`
	Expires         string `json:"expires,omitempty"`
	DaysUntilExpiry int    `json:"days_until_expiry,omitempty"`
	Warning         bool   `json:"warning"`
	Error           string `json:"error,omitempty"`
}

// ProbeHeaders carries the selected response headers recorded on the
// final response of a probe.
type ProbeHeaders struct {
	Server      string `json:"server"`
	ContentType string `json:"content_type"`
}

// ProbeResult is the immutable outcome of one safety-checked probe.
// A fresh value is created on every probe and passed by reference to
// consumers; it is never mutated afterwards.
type ProbeResult struct {
	ServiceID      string        `json:"service_id,omitempty"`
	URL            string        `json:"url"`
	FinalURL       string        `json:"final_url,omitempty"`
	Redirected     bool          `json:"redirected"`
	StatusCode     int           `json:"status_code,omitempty"`
	ResponseTimeMS float64       `json:"response_time_ms"`
	ContentLength  int64         `json:"content_length"`
	Headers        *ProbeHeaders `json:"headers,omitempty"`
	Healthy        bool          `json:"healthy"`
	Class          ProbeClass    `json:"classification,omitempty"`
	Error          string        `json:"error,omitempty"`
	TLS            *TLSSummary   `json:"ssl,omitempty"`
	CheckedAt      time.Time     `json:"checked_at"`
	Suggestions    []string      `json:"suggestions,omitempty"`
}

// Failed reports whether the probe detected an unhealthy target.
func (r *ProbeResult) Failed() bool {
	return !r.Healthy
}
