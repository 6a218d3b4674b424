// Package investigation calls the external root-cause analysis
// service and returns its action plan for an incident.
package investigation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
)

const defaultTimeout = 90 * time.Second

// Config holds the investigation client configuration. The endpoint
// receives the failing service context and answers with an action
// plan; analysis regularly takes tens of seconds, hence the generous
// default timeout.
type Config struct {
	URL     string
	Token   string        // bearer token (optional)
	Timeout time.Duration // request timeout
}

// Client is an HTTP investigator. The response body is treated as an
// opaque plan; no structure beyond the envelope is assumed.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates an investigation client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type investigateRequest struct {
	IncidentID   string `json:"incident_id"`
	ServiceName  string `json:"service_name"`
	ServiceURL   string `json:"service_url"`
	Severity     string `json:"severity"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DetectedAt   string `json:"detected_at"`
}

type investigateResponse struct {
	ActionPlan string `json:"action_plan"`
}

// Investigate submits the incident context and returns the generated
// action plan. An empty plan is an error: a resolved incident without
// a plan is useless to the on-call engineer.
func (c *Client) Investigate(ctx context.Context, serviceURL string, incident *domain.Incident) (string, error) {
	if c.config.URL == "" {
		return "", &PermanentError{Message: "investigation URL is empty"}
	}

	payload := investigateRequest{
		IncidentID:   incident.ID,
		ServiceName:  incident.ServiceName,
		ServiceURL:   serviceURL,
		Severity:     string(incident.Severity),
		ErrorCode:    incident.ErrorCode,
		ErrorMessage: incident.ErrorMessage,
		DetectedAt:   incident.DetectedAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	plan, err := c.handleResponse(resp)
	if err != nil {
		return "", err
	}

	slog.Info("investigation completed",
		"incident_id", incident.ID,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return plan, nil
}

func (c *Client) handleResponse(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out investigateResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", &PermanentError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("malformed response: %v", err),
			}
		}
		plan := strings.TrimSpace(out.ActionPlan)
		if plan == "" {
			return "", &PermanentError{Code: resp.StatusCode, Message: "empty action plan"}
		}
		return plan, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &PermanentError{Code: resp.StatusCode, Message: "invalid or expired token"}

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return "", &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error: %s", string(body)),
		}

	default:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("investigation error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("investigation error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("investigation error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("investigation error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
