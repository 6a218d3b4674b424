// Package notify delivers incident alerts to external channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/bissquit/sentinel/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Sentinel"
)

// severityColors maps incident severity to Slack attachment colors.
var severityColors = map[domain.IncidentSeverity]string{
	domain.IncidentSeverityHigh:   "#d00000",
	domain.IncidentSeverityMedium: "#f2c744",
}

// SlackConfig holds Slack channel configuration. The webhook URL is
// the whole credential; no bot token is needed.
type SlackConfig struct {
	WebhookURL string
	Username   string        // display name, default "Sentinel"
	IconEmoji  string        // e.g. ":rotating_light:" (optional)
	Timeout    time.Duration // request timeout
}

// SlackChannel posts incident summaries to a Slack incoming webhook.
type SlackChannel struct {
	config SlackConfig
	post   func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(config SlackConfig) *SlackChannel {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &SlackChannel{
		config: config,
		post:   slack.PostWebhookContext,
	}
}

// Notify posts one alert per incident. The message carries the
// service identity, severity, failing status, and detection time.
func (c *SlackChannel) Notify(ctx context.Context, incident *domain.Incident) error {
	if c.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	msg := c.buildMessage(incident)
	if err := c.post(ctx, c.config.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}

	slog.Debug("slack alert sent", "incident_id", incident.ID, "severity", incident.Severity)
	return nil
}

func (c *SlackChannel) buildMessage(incident *domain.Incident) *slack.WebhookMessage {
	fields := []slack.AttachmentField{
		{Title: "Service", Value: incident.ServiceName, Short: true},
		{Title: "Severity", Value: string(incident.Severity), Short: true},
		{Title: "URL", Value: incident.ServiceURL, Short: false},
		{Title: "Detected", Value: incident.DetectedAt.Format(time.RFC3339), Short: true},
	}
	if incident.ErrorCode != 0 {
		fields = append(fields, slack.AttachmentField{
			Title: "Status",
			Value: fmt.Sprintf("HTTP %d", incident.ErrorCode),
			Short: true,
		})
	}

	return &slack.WebhookMessage{
		Username:  c.config.Username,
		IconEmoji: c.config.IconEmoji,
		Text:      fmt.Sprintf("Incident detected: %s is unhealthy", incident.ServiceName),
		Attachments: []slack.Attachment{
			{
				Color:  severityColors[incident.Severity],
				Title:  fmt.Sprintf("Incident %s", incident.ID),
				Text:   incident.ErrorMessage,
				Fields: fields,
				Footer: "sentinel",
				Ts:     json.Number(fmt.Sprintf("%d", incident.DetectedAt.Unix())),
			},
		},
	}
}
