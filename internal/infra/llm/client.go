// Package llm provides the sentiment/impact analysis client abstraction C8
// depends on: one interface, with Claude, OpenAI, and no-op implementations,
// each wrapping the shared "llm_call" circuit breaker and a classify-then-
// retry recovery path (spec §4.2, §4.8, §13).
package llm

import (
	"context"

	"newspulse/internal/domain/entity"
)

// AnalysisInput is the subset of an Item's fields relevant to sentiment/
// impact analysis.
type AnalysisInput struct {
	ItemID      int64
	Title       string
	Description string
	Content     string
}

// Result is one item's analysis output. SentimentJSON and ImpactJSON are
// opaque provider-returned JSON documents, stored verbatim on
// entity.AnalysisRunItem; no component in this pipeline inspects their
// internal shape beyond what the analysis prompt itself defines.
type Result struct {
	SentimentJSON []byte
	ImpactJSON    []byte
	Tokens        entity.TokenUsage
}

// Client analyzes one item against a specific model tag. Implementations
// must be safe for concurrent use by multiple orchestrator workers.
type Client interface {
	Analyze(ctx context.Context, input AnalysisInput, modelTag string) (Result, error)
}
