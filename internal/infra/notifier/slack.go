package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"newspulse/internal/domain/entity"

	"github.com/google/uuid"
)

// SlackConfig configures Slack Incoming Webhook alert delivery.
type SlackConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// SlackNotifier delivers operational alerts to Slack via Incoming Webhook.
type SlackNotifier struct {
	config      SlackConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewSlackNotifier builds a SlackNotifier rate-limited to Slack's webhook
// budget (1 message/s).
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(1.0, 1),
	}
}

type slackWebhookPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string            `json:"type"`
	Text     *slackTextObject  `json:"text,omitempty"`
	Elements []slackTextObject `json:"elements,omitempty"`
}

type slackTextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	maxSectionTextLength = 3000
	maxContextTextLength = 2000
	maxFallbackLength    = 150

	slackTruncationSuffix = "..."
)

func severityEmoji(sev entity.AlertSeverity) string {
	switch sev {
	case entity.AlertSeverityCritical:
		return ":rotating_light:"
	case entity.AlertSeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// buildBlockKitPayload renders alert as a fallback text line plus a section
// block (title + message) and a context block (component + timestamp).
func (s *SlackNotifier) buildBlockKitPayload(alert *entity.OperationalAlert) slackWebhookPayload {
	fallbackText := fmt.Sprintf("%s %s - %s", severityEmoji(alert.Severity), alert.Title, alert.Component)
	if len(fallbackText) > maxFallbackLength {
		fallbackText = fallbackText[:maxFallbackLength-len(slackTruncationSuffix)] + slackTruncationSuffix
	}

	sectionText := fmt.Sprintf("*%s %s*\n\n%s", severityEmoji(alert.Severity), alert.Title, alert.Message)
	sectionText = truncateText(sectionText, maxSectionTextLength, slackTruncationSuffix)

	contextText := fmt.Sprintf("%s • %s", alert.Component, alert.OccurredAt.Format(time.RFC3339))
	contextText = truncateText(contextText, maxContextTextLength, slackTruncationSuffix)

	return slackWebhookPayload{
		Text: fallbackText,
		Blocks: []slackBlock{
			{Type: "section", Text: &slackTextObject{Type: "mrkdwn", Text: sectionText}},
			{Type: "context", Elements: []slackTextObject{{Type: "mrkdwn", Text: contextText}}},
		},
	}
}

func (s *SlackNotifier) sendWebhookRequest(ctx context.Context, alert *entity.OperationalAlert) error {
	payload := s.buildBlockKitPayload(alert)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Message: "Slack rate limit exceeded", RetryAfter: extractRetryAfter(resp, body)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Slack API client error: %s", string(body))}
	}
	if resp.StatusCode >= 500 {
		return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Slack API server error: %s", string(body))}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

func (s *SlackNotifier) sendWebhookRequestWithRetry(ctx context.Context, alert *entity.OperationalAlert) error {
	const (
		maxAttempts = 2
		baseDelay   = 5 * time.Second
	)

	requestID, _ := ctx.Value(requestIDKey).(string)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.sendWebhookRequest(ctx, alert)
		if err == nil {
			slog.Info("Slack alert delivered",
				slog.String("request_id", requestID),
				slog.String("component", alert.Component),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if rateLimitErr, ok := is429Error(err); ok {
			slog.Warn("Slack rate limit hit, backing off",
				slog.String("request_id", requestID),
				slog.Duration("retry_after", rateLimitErr.RetryAfter))
			select {
			case <-time.After(rateLimitErr.RetryAfter):
				continue
			case <-ctx.Done():
				return fmt.Errorf("context canceled during rate limit backoff: %w", ctx.Err())
			}
		}

		if !isRetryableError(err) {
			slog.Error("Slack alert failed with non-retryable error",
				slog.String("request_id", requestID),
				slog.String("component", alert.Component),
				slog.Any("error", err))
			return err
		}

		if attempt < maxAttempts {
			delay := baseDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return fmt.Errorf("slack alert failed after %d attempts: %w", maxAttempts, lastErr)
}

// NotifyAlert implements Notifier.
func (s *SlackNotifier) NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error {
	requestID := uuid.New().String()
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	if err := s.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return s.sendWebhookRequestWithRetry(ctx, alert)
}
