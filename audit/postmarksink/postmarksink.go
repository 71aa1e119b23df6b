// Package postmarksink adapts github.com/mrz1836/postmark into an
// audit.Sink escalation path, grounded on the teacher's
// integration/email/postmark.Client wiring of postmark.NewClient plus its
// SendEmail call shape. Unlike the teacher's general-purpose transactional
// sender, this sink does not email every audit event — only ones tagged
// critical in Metadata, so a noisy audit stream doesn't become a noisy
// inbox.
package postmarksink

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/gifton/pipelinekit/core/audit"
)

// Config configures the sink. ServerToken/AccountToken are the two
// postmark API tokens; SenderEmail/AlertRecipients address the
// escalation emails.
type Config struct {
	ServerToken     string
	AccountToken    string
	SenderEmail     string
	AlertRecipients []string
}

// Sink is an audit.Sink that forwards only critical-tagged events as
// email alerts; every other event is acknowledged as delivered without
// producing mail traffic.
type Sink struct {
	client *postmark.Client
	cfg    Config
}

// New constructs a Sink. Both tokens and at least one recipient are
// required; this fails fast rather than silently dropping alerts later.
func New(cfg Config) (*Sink, error) {
	if cfg.ServerToken == "" || cfg.AccountToken == "" {
		return nil, fmt.Errorf("postmarksink: ServerToken and AccountToken are required")
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("postmarksink: SenderEmail is required")
	}
	if len(cfg.AlertRecipients) == 0 {
		return nil, fmt.Errorf("postmarksink: at least one alert recipient is required")
	}
	return &Sink{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

// Log implements audit.Sink. Non-critical events are a no-op success;
// critical events are emailed to every configured recipient.
func (s *Sink) Log(ctx context.Context, evt audit.Event) error {
	if !isCritical(evt) {
		return nil
	}

	to := ""
	for i, addr := range s.cfg.AlertRecipients {
		if i > 0 {
			to += ","
		}
		to += addr
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.cfg.SenderEmail,
		To:       to,
		Subject:  fmt.Sprintf("[audit] critical event: %s", evt.EventType),
		HTMLBody: renderBody(evt),
		Tag:      "audit-critical",
	})
	if err != nil {
		return fmt.Errorf("postmarksink: send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmarksink: postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

func isCritical(evt audit.Event) bool {
	sev, ok := evt.Metadata["severity"]
	if !ok {
		return false
	}
	s, ok := sev.(string)
	return ok && s == "critical"
}

func renderBody(evt audit.Event) string {
	return fmt.Sprintf(
		"<p>Event: %s</p><p>Time: %s</p><p>Trace: %s</p><p>User: %s</p>",
		evt.EventType, evt.Timestamp.Format("2006-01-02T15:04:05Z07:00"), evt.TraceID, evt.UserID,
	)
}
