package llm

import (
	"encoding/json"
	"fmt"
)

// maxContentChars bounds the input text shipped to the provider, mirroring
// the teacher's summarizer truncation safeguard.
const maxContentChars = 10000

// analysisEnvelope is the structured response every provider is instructed
// to emit. sentiment/impact are left as json.RawMessage since nothing in
// this package interprets their internal shape — they pass through to
// entity.AnalysisRunItem verbatim.
type analysisEnvelope struct {
	Sentiment json.RawMessage `json:"sentiment"`
	Impact    json.RawMessage `json:"impact"`
}

func buildPrompt(input AnalysisInput) string {
	content := input.Content
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "...(truncated)"
	}
	return fmt.Sprintf(`Analyze the following news item and respond with a single JSON object
of exactly this shape, no surrounding prose:

{"sentiment": {"label": "positive|neutral|negative", "score": <float -1..1>, "rationale": "<string>"}, "impact": {"score": <float 0..1>, "rationale": "<string>"}}

Title: %s
Description: %s
Content: %s`, input.Title, input.Description, content)
}

// parseAnalysis extracts the sentiment/impact sub-documents from a
// provider's raw text response.
func parseAnalysis(raw string) (Result, error) {
	var env analysisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Result{}, fmt.Errorf("parse analysis response: %w", err)
	}
	if len(env.Sentiment) == 0 || len(env.Impact) == 0 {
		return Result{}, fmt.Errorf("analysis response missing sentiment or impact")
	}
	return Result{SentimentJSON: env.Sentiment, ImpactJSON: env.Impact}, nil
}
