// Package notify delivers issued license keys to buyers by email.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultResendBaseURL is the production Resend API endpoint.
const DefaultResendBaseURL = "https://api.resend.com"

// Sender delivers license keys to a buyer. Delivery failure is reported
// but never blocks fulfillment; the claim token remains the fallback path.
type Sender interface {
	Send(ctx context.Context, to string, keys []string, claimURL string) error
}

// ResendSender sends key delivery emails through the Resend API.
type ResendSender struct {
	client  *resty.Client
	from    string
	replyTo string
	logger  *slog.Logger
}

// NewResendSender creates a sender authenticated with the given API key.
// baseURL is overridable for tests; pass "" for production.
func NewResendSender(apiKey, from, replyTo, baseURL string, logger *slog.Logger) *ResendSender {
	if baseURL == "" {
		baseURL = DefaultResendBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(15 * time.Second)

	return &ResendSender{
		client:  client,
		from:    from,
		replyTo: replyTo,
		logger:  logger,
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Send emails the keys to the buyer. The claim URL is included so the
// buyer can re-fetch keys once from the success page if the email client
// mangles the body.
func (s *ResendSender) Send(ctx context.Context, to string, keys []string, claimURL string) error {
	if to == "" {
		return fmt.Errorf("recipient email is empty")
	}

	body := resendRequest{
		From:    s.from,
		To:      to,
		Subject: "Your license keys",
		HTML:    renderKeysHTML(keys, claimURL),
		ReplyTo: s.replyTo,
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}

	if resp.IsError() {
		s.logger.ErrorContext(ctx, "resend rejected email",
			"status", resp.StatusCode(),
			"body", truncate(string(resp.Body()), 600),
		)
		return fmt.Errorf("resend error (status %d)", resp.StatusCode())
	}

	s.logger.InfoContext(ctx, "delivery email sent",
		"status", resp.StatusCode(),
		"key_count", len(keys),
	)
	return nil
}

func renderKeysHTML(keys []string, claimURL string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;font-size:14px;color:#111;">`)
	b.WriteString(`<p>Your license keys:</p>`)
	b.WriteString(`<pre style="background:#f6f6f6;border:1px solid #ddd;padding:12px;border-radius:6px;">`)
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(html.EscapeString(k))
	}
	b.WriteString(`</pre>`)
	if claimURL != "" {
		b.WriteString(`<p>You can also view your keys once at <a href="`)
		b.WriteString(html.EscapeString(claimURL))
		b.WriteString(`">this link</a>. The link works once and expires soon.</p>`)
	}
	b.WriteString(`<p>If you need help, reply to this email.</p>`)
	b.WriteString(`</div>`)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
