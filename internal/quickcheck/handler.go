// Package quickcheck exposes the one-off health check API. Checks run
// against caller-supplied URLs, so the endpoint is rate limited per
// client and every URL goes through the prober's target guard.
package quickcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/bissquit/sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/sentinel/internal/pkg/httputil"
	"github.com/bissquit/sentinel/internal/prober"
)

// Limits for caller-supplied parameters.
const (
	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 30 * time.Second
	MaxBatchSize   = 10

	// Per-client token bucket: sustained rate and burst.
	ratePerSecond = 5
	rateBurst     = 10
)

// Prober performs a single health check against a URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string, timeout time.Duration) (*domain.ProbeResult, error)
}

// Handler handles HTTP requests for the quick check module.
type Handler struct {
	prober    Prober
	validator *validator.Validate
	limiters  *clientLimiters
}

// NewHandler creates a new quick check handler.
func NewHandler(p Prober) *Handler {
	return &Handler{
		prober:    p,
		validator: validator.New(),
		limiters:  newClientLimiters(ratePerSecond, rateBurst),
	}
}

// RegisterRoutes registers all HTTP routes for the quick check module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.rateLimit).Get("/quick-check", h.QuickCheck)
	r.With(h.rateLimit).Post("/quick-check/batch", h.BatchQuickCheck)
}

// QuickCheck handles GET /quick-check?url=...&timeout=... request.
func (h *Handler) QuickCheck(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		httputil.Error(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	timeout, err := parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.prober.Probe(r.Context(), rawURL, timeout)
	if err != nil {
		if errors.Is(err, prober.ErrInvalidURL) {
			httputil.Error(w, http.StatusBadRequest, "invalid url")
			return
		}
		ctxlog.FromContext(r.Context()).Error("quick check failed", "url", rawURL, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// BatchQuickCheckRequest represents the request body for a batch check.
type BatchQuickCheckRequest struct {
	URLs           []string `json:"urls" validate:"required,min=1,max=10,dive,required"`
	TimeoutSeconds int      `json:"timeout,omitempty" validate:"omitempty,min=1,max=30"`
}

// BatchQuickCheck handles POST /quick-check/batch request. All URLs
// are probed concurrently; results keep the request order. A bad URL
// fails its own slot, not the whole batch.
func (h *Handler) BatchQuickCheck(w http.ResponseWriter, r *http.Request) {
	var req BatchQuickCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	timeout := DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	results := make([]*domain.ProbeResult, len(req.URLs))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(MaxBatchSize)

	for i, rawURL := range req.URLs {
		g.Go(func() error {
			result, err := h.prober.Probe(gctx, rawURL, timeout)
			if err != nil {
				results[i] = &domain.ProbeResult{
					URL:     rawURL,
					Healthy: false,
					Class:   domain.ProbeClassUnknownError,
					Error:   err.Error(),
				}
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	httputil.JSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultTimeout, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 1 {
		return 0, errors.New("timeout must be a positive integer of seconds")
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return timeout, nil
}

// rateLimit applies the per-client token bucket keyed by remote IP.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiters.allow(clientIP(r)) {
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLimiters keeps one token bucket per client IP.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (c *clientLimiters) allow(key string) bool {
	c.mu.Lock()
	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(c.rps, c.burst)
		c.limiters[key] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}
