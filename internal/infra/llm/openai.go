package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"newspulse/internal/domain/entity"
	"newspulse/internal/resilience/circuitbreaker"
	resilienceerrors "newspulse/internal/resilience/errors"
	"newspulse/internal/resilience/retry"
)

const openaiCallTimeout = 60 * time.Second

// OpenAIClient implements Client against the Chat Completions API, adapted
// from internal/infra/summarizer/openai.go's circuit-breaker + retry
// wiring.
type OpenAIClient struct {
	client         *openai.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	model          string
	metrics        MetricsRecorder
}

// Breaker exposes the client's circuit breaker for operational alerting.
func (o *OpenAIClient) Breaker() *circuitbreaker.CircuitBreaker {
	return o.circuitBreaker
}

// NewOpenAIClient constructs an OpenAIClient. defaultModel is used when the
// caller's modelTag is empty.
func NewOpenAIClient(apiKey, defaultModel string) *OpenAIClient {
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:         openai.NewClient(apiKey),
		circuitBreaker: circuitbreaker.New(circuitbreaker.LLMCallConfig()),
		model:          defaultModel,
		metrics:        NewPrometheusMetrics(),
	}
}

// Analyze implements Client.
func (o *OpenAIClient) Analyze(ctx context.Context, input AnalysisInput, modelTag string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, openaiCallTimeout)
	defer cancel()

	model := modelTag
	if model == "" {
		model = o.model
	}

	attempt := func() (Result, error) {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doAnalyze(ctx, input, model)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("openai api circuit breaker open, request rejected",
					slog.String("state", o.circuitBreaker.State().String()))
				return Result{}, fmt.Errorf("openai api unavailable: circuit breaker open")
			}
			return Result{}, err
		}
		return cbResult.(Result), nil
	}

	result, err := attempt()
	if err == nil {
		return result, nil
	}

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
		o.metrics.RecordFailure("openai")
		return Result{}, fmt.Errorf("openai analyze failed after retries: %w", retryErr)
	}
	return result, nil
}

func (o *OpenAIClient) doAnalyze(ctx context.Context, input AnalysisInput, model string) (Result, error) {
	prompt := buildPrompt(input)

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	duration := time.Since(start)
	o.metrics.RecordDuration("openai", duration)

	if err != nil {
		return Result{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai api returned empty response")
	}

	result, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, fmt.Errorf("item %d: %w", input.ItemID, err)
	}

	result.Tokens = entity.TokenUsage{
		Input:  int64(resp.Usage.PromptTokens),
		Output: int64(resp.Usage.CompletionTokens),
	}
	o.metrics.RecordTokens("openai", result.Tokens.Input+result.Tokens.Output)

	return result, nil
}
