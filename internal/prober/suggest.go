package prober

import (
	"fmt"

	"github.com/bissquit/sentinel/internal/domain"
)

// suggestions derives advisory diagnostics from a finished probe.
// The output is purely deterministic over the result fields so it can
// be asserted in tests; it is never used for control decisions.
func suggestions(r *domain.ProbeResult) []string {
	// Failure classes set their own advice up front.
	if len(r.Suggestions) > 0 {
		return r.Suggestions
	}

	var out []string

	switch {
	case r.StatusCode >= 500:
		out = append(out, "Server error detected - check server logs")
	case r.StatusCode == 404:
		out = append(out, "Page not found - verify the URL path")
	case r.StatusCode == 403:
		out = append(out, "Access forbidden - check authentication")
	case r.StatusCode == 401:
		out = append(out, "Unauthorized - credentials required")
	case r.StatusCode >= 400:
		out = append(out, fmt.Sprintf("Client error (HTTP %d) - check request", r.StatusCode))
	}

	switch {
	case r.ResponseTimeMS > 3000:
		out = append(out, "Very slow response (>3s) - optimize performance")
	case r.ResponseTimeMS > 1000:
		out = append(out, "Slow response (>1s) - consider caching")
	case r.StatusCode != 0 && r.ResponseTimeMS < 200:
		out = append(out, "Excellent response time!")
	}

	if r.TLS != nil {
		if r.TLS.Warning && r.TLS.Valid {
			out = append(out, fmt.Sprintf("SSL certificate expires in %d days - renew soon", r.TLS.DaysUntilExpiry))
		} else if !r.TLS.Valid {
			out = append(out, "SSL certificate invalid - fix immediately")
		}
	}

	if r.Healthy && len(out) == 1 && out[0] == "Excellent response time!" {
		return out
	}
	if r.Healthy && len(out) == 0 {
		out = append(out, "Everything looks good!")
	}

	return out
}
