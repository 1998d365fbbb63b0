package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"newspulse/internal/domain/entity"
	resilienceerrors "newspulse/internal/resilience/errors"
	"newspulse/internal/resilience/circuitbreaker"
	"newspulse/internal/resilience/retry"
)

// claudeCallTimeout bounds a single analysis call, mirroring the teacher
// summarizer's per-call timeout.
const claudeCallTimeout = 60 * time.Second

// ClaudeClient implements Client against Anthropic's Messages API,
// adapted from internal/infra/summarizer/claude.go's circuit-breaker +
// retry wiring, generalized from summarization to structured sentiment/
// impact analysis.
type ClaudeClient struct {
	client         anthropic.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	model          string
	maxTokens      int64
	metrics        MetricsRecorder
}

// Breaker exposes the client's circuit breaker for operational alerting.
func (c *ClaudeClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.circuitBreaker
}

// NewClaudeClient constructs a ClaudeClient. defaultModel is used when the
// caller's modelTag is empty.
func NewClaudeClient(apiKey, defaultModel string) *ClaudeClient {
	if defaultModel == "" {
		defaultModel = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	return &ClaudeClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		circuitBreaker: circuitbreaker.New(circuitbreaker.LLMCallConfig()),
		model:          defaultModel,
		maxTokens:      1024,
		metrics:        NewPrometheusMetrics(),
	}
}

// Analyze implements Client.
func (c *ClaudeClient) Analyze(ctx context.Context, input AnalysisInput, modelTag string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, claudeCallTimeout)
	defer cancel()

	model := modelTag
	if model == "" {
		model = c.model
	}

	attempt := func() (Result, error) {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doAnalyze(ctx, input, model)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("claude api circuit breaker open, request rejected",
					slog.String("state", c.circuitBreaker.State().String()))
				return Result{}, fmt.Errorf("claude api unavailable: circuit breaker open")
			}
			return Result{}, err
		}
		return cbResult.(Result), nil
	}

	result, err := attempt()
	if err == nil {
		return result, nil
	}

	// Classify the observed failure and retry using that kind's profile
	// (spec §13), rather than a single fixed retry shape for every error.
	cfg := resilienceerrors.Classify(err).RetryConfig()
	retryErr := retry.WithBackoff(ctx, cfg, func() error {
		r, aerr := attempt()
		if aerr != nil {
			return aerr
		}
		result = r
		return nil
	})
	if retryErr != nil {
		c.metrics.RecordFailure("claude")
		return Result{}, fmt.Errorf("claude analyze failed after retries: %w", retryErr)
	}
	return result, nil
}

func (c *ClaudeClient) doAnalyze(ctx context.Context, input AnalysisInput, model string) (Result, error) {
	prompt := buildPrompt(input)

	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	duration := time.Since(start)
	c.metrics.RecordDuration("claude", duration)

	if err != nil {
		return Result{}, fmt.Errorf("claude api error: %w", err)
	}
	if len(message.Content) == 0 {
		return Result{}, fmt.Errorf("claude api returned empty response")
	}
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return Result{}, fmt.Errorf("claude api returned unexpected response type")
	}

	result, err := parseAnalysis(textBlock.Text)
	if err != nil {
		return Result{}, fmt.Errorf("item %d: %w", input.ItemID, err)
	}

	result.Tokens = entity.TokenUsage{
		Input:  message.Usage.InputTokens,
		Output: message.Usage.OutputTokens,
		Cached: message.Usage.CacheReadInputTokens,
	}
	c.metrics.RecordTokens("claude", result.Tokens.Input+result.Tokens.Output)

	return result, nil
}
