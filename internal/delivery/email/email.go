// Package email sends delivery notifications (scheduled report results,
// critical alert escalation) via sendgrid-go, the provider the teacher's
// adapters.EmailService already wires for transactional mail, trimmed to
// the single-provider path this platform needs.
package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender sends plain transactional emails.
type Sender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// New builds a Sender. apiKey must be non-empty; callers should treat a
// missing key as a CONFIG_ERROR before reaching this constructor.
func New(apiKey, fromEmail, fromName string) *Sender {
	return &Sender{client: sendgrid.NewSendClient(apiKey), fromEmail: fromEmail, fromName: fromName}
}

// Send delivers a single email with both text and HTML bodies.
func (s *Sender) Send(ctx context.Context, to, subject, text, html string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, text, html)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("email provider returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
