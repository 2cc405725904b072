// Package notify delivers per-user summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonathan/call-insights/internal/classify"
)

// Sender posts a notification body to the configured sink.
type Sender interface {
	Send(ctx context.Context, body string) error
}

// SlackWebhook sends messages to a Slack incoming webhook.
type SlackWebhook struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackWebhook constructs a webhook sender with the given per-call timeout.
func NewSlackWebhook(webhookURL string, timeout time.Duration) *SlackWebhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SlackWebhook{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// slackMessage is the webhook payload.
type slackMessage struct {
	Text string `json:"text"`
}

// Send posts the body as a Slack message, retrying transient server errors.
func (s *SlackWebhook) Send(ctx context.Context, body string) error {
	payload, err := json.Marshal(slackMessage{Text: body})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("slack server error: status %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("slack returned status %d: %s", resp.StatusCode, respBody))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	return nil
}

// MatchesForUser returns the matches whose keyword intersects the user's
// interests. Comparison is case-insensitive.
func MatchesForUser(interests []string, matches []classify.Match) []classify.Match {
	wanted := make(map[string]bool, len(interests))
	for _, interest := range interests {
		wanted[strings.ToLower(strings.TrimSpace(interest))] = true
	}

	var out []classify.Match
	for _, match := range matches {
		if wanted[strings.ToLower(match.Keyword)] {
			out = append(out, match)
		}
	}
	return out
}

// ComposeMessage renders one notification body for a user, concatenating the
// summaries of their matched keywords.
func ComposeMessage(email string, matches []classify.Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New Gong Call Summary for %s:\n", email)
	for _, match := range matches {
		fmt.Fprintf(&sb, "• [%s] %s", match.Keyword, match.Summary)
		if match.Link != "" {
			fmt.Fprintf(&sb, " (%s)", match.Link)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
