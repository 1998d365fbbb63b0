package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"newspulse/internal/domain/entity"

	"github.com/google/uuid"
)

// DiscordConfig configures Discord webhook alert delivery.
type DiscordConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// DiscordNotifier delivers operational alerts to Discord via webhook.
type DiscordNotifier struct {
	config      DiscordConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewDiscordNotifier builds a DiscordNotifier rate-limited to Discord's
// webhook budget (30 req/min = 0.5 req/s, burst 3).
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(0.5, 3),
	}
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Color       int                `json:"color"`
	Footer      discordEmbedFooter `json:"footer"`
	Timestamp   string             `json:"timestamp"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordErrorResponse struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after"`
}

const (
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	truncationSuffix     = "..."

	discordBlueColor   = 5793266 // #5865F2
	discordRedColor    = 15548997
	discordYellowColor = 16705372
)

func severityColor(sev entity.AlertSeverity) int {
	switch sev {
	case entity.AlertSeverityCritical:
		return discordRedColor
	case entity.AlertSeverityWarning:
		return discordYellowColor
	default:
		return discordBlueColor
	}
}

func (d *DiscordNotifier) buildEmbedPayload(alert *entity.OperationalAlert) discordWebhookPayload {
	title := alert.Title
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	description := truncateText(alert.Message, maxDescriptionLength, truncationSuffix)

	embed := discordEmbed{
		Title:       title,
		Description: description,
		Color:       severityColor(alert.Severity),
		Footer:      discordEmbedFooter{Text: alert.Component},
		Timestamp:   alert.OccurredAt.Format(time.RFC3339),
	}

	return discordWebhookPayload{Embeds: []discordEmbed{embed}}
}

func (d *DiscordNotifier) sendWebhookRequest(ctx context.Context, alert *entity.OperationalAlert) error {
	payload := d.buildEmbedPayload(alert)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Message: "Discord rate limit exceeded", RetryAfter: extractRetryAfter(resp, body)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Discord API client error: %s", string(body))}
	}
	if resp.StatusCode >= 500 {
		return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Discord API server error: %s", string(body))}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var discordErr discordErrorResponse
	if err := json.Unmarshal(body, &discordErr); err == nil && discordErr.RetryAfter > 0 {
		return time.Duration(discordErr.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if seconds, err := strconv.Atoi(h); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

// sendWebhookRequestWithRetry retries transient failures: 429s sleep for
// the server's retry_after, 5xx/network errors back off 5s before the single
// retry (two attempts in all), 4xx errors fail immediately.
func (d *DiscordNotifier) sendWebhookRequestWithRetry(ctx context.Context, alert *entity.OperationalAlert) error {
	const (
		maxAttempts = 2
		baseDelay   = 5 * time.Second
	)

	requestID, _ := ctx.Value(requestIDKey).(string)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.sendWebhookRequest(ctx, alert)
		if err == nil {
			slog.Info("Discord alert delivered",
				slog.String("request_id", requestID),
				slog.String("component", alert.Component),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if rateLimitErr, ok := is429Error(err); ok {
			slog.Warn("Discord rate limit hit, backing off",
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
			slog.Error("Discord alert failed with non-retryable error",
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

	return fmt.Errorf("discord alert failed after %d attempts: %w", maxAttempts, lastErr)
}

// NotifyAlert implements Notifier.
func (d *DiscordNotifier) NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error {
	requestID := uuid.New().String()
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	if err := d.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return d.sendWebhookRequestWithRetry(ctx, alert)
}
