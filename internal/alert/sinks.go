package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/auditrail/auditrail/internal/delivery/email"
	"github.com/auditrail/auditrail/internal/delivery/webhook"
)

// DatabaseSink persists the alert's state, the §4.6-authoritative handler.
// In practice Engine.Raise already calls Repository.Insert directly, so
// DatabaseSink exists for callers that compose a custom sink list and
// still want database persistence represented as an ordinary Sink.
type DatabaseSink struct {
	repo Repository
}

// NewDatabaseSink builds a DatabaseSink over repo.
func NewDatabaseSink(repo Repository) *DatabaseSink {
	return &DatabaseSink{repo: repo}
}

// Handle is a no-op when the alert was already inserted by Engine.Raise;
// it re-inserts only if the record is missing, covering direct Sink use
// outside the Engine.
func (s *DatabaseSink) Handle(ctx context.Context, a *Alert) error {
	if _, err := s.repo.GetByID(ctx, a.OrganizationID, a.ID); err != nil {
		return s.repo.Insert(ctx, a)
	}
	return nil
}

// WebhookSink POSTs non-CRITICAL alerts to the configured webhook per
// §4.6 "Notifications": URL suffixed with /{organizationId}, tagged with
// warning,{type},{severity},{source},{status}, and Priority: 5 for
// CRITICAL.
type WebhookSink struct {
	client *webhook.Client
}

// NewWebhookSink builds a WebhookSink over client.
func NewWebhookSink(client *webhook.Client) *WebhookSink {
	return &WebhookSink{client: client}
}

func (s *WebhookSink) Handle(ctx context.Context, a *Alert) error {
	tags := fmt.Sprintf("warning,%s,%s,%s,%s", a.Type, strings.ToLower(string(a.Severity)), a.Source, a.Status)
	headers := webhook.Headers{Title: a.Title, Tags: tags}
	if a.Severity == SeverityCritical {
		headers.Priority = "5"
	}
	return s.client.Post(ctx, a.OrganizationID, a.Description, headers)
}

// EmailSink emails a fixed distribution address for alerts meeting a
// minimum severity, used for CRITICAL escalation outside the webhook
// channel.
type EmailSink struct {
	sender    *email.Sender
	to        string
	minimum   Severity
}

// NewEmailSink builds an EmailSink that only fires for alerts at or above
// minimum severity (by Rank, lower is more severe).
func NewEmailSink(sender *email.Sender, to string, minimum Severity) *EmailSink {
	return &EmailSink{sender: sender, to: to, minimum: minimum}
}

func (s *EmailSink) Handle(ctx context.Context, a *Alert) error {
	if a.Severity.Rank() > s.minimum.Rank() {
		return nil
	}
	subject := fmt.Sprintf("[%s] %s", a.Severity, a.Title)
	return s.sender.Send(ctx, s.to, subject, a.Description, "<p>"+a.Description+"</p>")
}
