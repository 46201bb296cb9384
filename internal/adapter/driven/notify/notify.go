// Package notify implements the outbound channels behind
// POST /notifications/test-{slack,email}: a Slack incoming webhook and
// SendGrid email delivery, grounded on the teacher's pack-mate minder
// repo's sendgrid integration.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SlackNotifier posts messages to a user-configured Slack incoming webhook
// URL. Slack webhooks require nothing beyond a single JSON POST, so this
// stays on net/http rather than reaching for a full Slack SDK.
type SlackNotifier struct {
	httpClient *http.Client
}

// NewSlackNotifier constructs a SlackNotifier with a bounded request timeout.
func NewSlackNotifier() *SlackNotifier {
	return &SlackNotifier{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Send posts message to the given incoming webhook URL.
func (s *SlackNotifier) Send(ctx context.Context, webhookURL, message string) error {
	body, err := json.Marshal(slackPayload{Text: message})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailNotifier sends email via SendGrid.
type EmailNotifier struct {
	client *sendgrid.Client
	sender mail.Email
}

// NewEmailNotifier constructs an EmailNotifier. Returns nil, nil when apiKey
// is empty, the signal callers use to treat email notifications as
// unconfigured rather than broken.
func NewEmailNotifier(apiKey, senderAddress string) (*EmailNotifier, error) {
	if apiKey == "" {
		return nil, nil
	}
	sender, err := mail.ParseEmail(senderAddress)
	if err != nil {
		return nil, fmt.Errorf("parse sender address: %w", err)
	}
	return &EmailNotifier{client: sendgrid.NewSendClient(apiKey), sender: *sender}, nil
}

// Send delivers a plain-text test email to the given address.
func (e *EmailNotifier) Send(ctx context.Context, to, subject, body string) error {
	toEmail := mail.NewEmail("", to)
	msg := mail.NewSingleEmail(&e.sender, subject, toEmail, body, "")

	resp, err := e.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
