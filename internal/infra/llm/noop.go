package llm

import (
	"context"

	"newspulse/internal/domain/entity"
)

// NoOp is a Client that returns a fixed neutral analysis without calling
// any provider — useful for local development and for runs configured
// with no API key.
type NoOp struct{}

// NewNoOp constructs a NoOp client.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Analyze implements Client.
func (n *NoOp) Analyze(_ context.Context, _ AnalysisInput, _ string) (Result, error) {
	return Result{
		SentimentJSON: []byte(`{"label":"neutral","score":0,"rationale":"noop client"}`),
		ImpactJSON:    []byte(`{"score":0,"rationale":"noop client"}`),
		Tokens:        entity.TokenUsage{},
	}, nil
}
