package analysis

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"newspulse/internal/domain/entity"
)

// ModelRate is the USD-per-1M-token price for one model, split by token
// kind (spec §4.8.2).
type ModelRate struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
	CachedPerMillion float64 `yaml:"cached_per_million"`
}

// defaultPricing mirrors the rates carried by the pre-rewrite cost
// estimator, converted from per-1K to per-1M and extended with a cached-
// token rate (Anthropic prompt caching). Cost applies CachedPerMillion as
// is, so a model whose rate has no cached price bills cached tokens at $0.
var defaultPricing = map[string]ModelRate{
	"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedPerMillion: 0.075},
	"gpt-4.1-nano": {InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedPerMillion: 0.025},
	"gpt-4":         {InputPerMillion: 30.0, OutputPerMillion: 60.0, CachedPerMillion: 15.0},
	"claude-3-5-haiku-latest":  {InputPerMillion: 0.80, OutputPerMillion: 4.0, CachedPerMillion: 0.08},
	"claude-3-5-sonnet-latest": {InputPerMillion: 3.0, OutputPerMillion: 15.0, CachedPerMillion: 0.30},
}

// AverageTokensPerItem is the conservative per-item token estimate used to
// compute a run's cost_estimate at creation time, before any item has
// actually been processed (spec §4.8.2).
const AverageTokensPerItem = 500

// MaxCostPerRun is a soft cap: exceeding it only flags the run, it never
// halts processing (spec §4.8.2).
const MaxCostPerRun = 25.0

// PricingTable resolves a model tag to its per-token rate. It starts from
// defaultPricing plus any loaded overrides; an unknown model gets a zero
// rate (see Rate).
type PricingTable struct {
	mu    sync.RWMutex
	rates map[string]ModelRate
}

// NewPricingTable constructs a table seeded from defaultPricing.
func NewPricingTable() *PricingTable {
	rates := make(map[string]ModelRate, len(defaultPricing))
	for k, v := range defaultPricing {
		rates[k] = v
	}
	return &PricingTable{rates: rates}
}

// LoadOverrides merges a YAML file of the form
//
//	models:
//	  gpt-4o-mini:
//	    input_per_million: 0.15
//	    output_per_million: 0.60
//
// into the table. A missing file is not an error — the defaults stand.
func (p *PricingTable) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pricing overrides: %w", err)
	}

	var doc struct {
		Models map[string]ModelRate `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse pricing overrides: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for model, rate := range doc.Models {
		p.rates[model] = rate
	}
	return nil
}

// Rate returns the pricing for model, falling back to a zero rate (which
// prices the call at $0, surfacing as an obviously-wrong cost rather than
// silently picking another model's price) if model is unrecognized.
func (p *PricingTable) Rate(model string) ModelRate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rates[model]
}

// Cost computes the USD cost of one item's token usage under model's rate.
func (p *PricingTable) Cost(model string, tokens entity.TokenUsage) float64 {
	rate := p.Rate(model)
	return (float64(tokens.Input)/1e6)*rate.InputPerMillion +
		(float64(tokens.Output)/1e6)*rate.OutputPerMillion +
		(float64(tokens.Cached)/1e6)*rate.CachedPerMillion
}

// EstimateRunCost returns the conservative cost_estimate for a new run of
// itemCount items under model, per spec §4.8.2: average-tokens-per-item,
// input price only.
func (p *PricingTable) EstimateRunCost(model string, itemCount int) float64 {
	rate := p.Rate(model)
	return float64(itemCount) * (AverageTokensPerItem / 1e6) * rate.InputPerMillion
}
