// Package synth turns research bundles into validated drafts: article
// payloads with sectioned bodies and narrative company profiles. All LLM
// calls in the pipeline go through here.
package synth

import (
	"github.com/quest-group/content-engine/internal/config"
	"github.com/quest-group/content-engine/pkg/anthropic"
)

// Synthesizer drives draft generation against the LLM. It is safe for
// concurrent use.
type Synthesizer struct {
	ai     anthropic.Client
	models config.AnthropicConfig
	policy config.SynthesisConfig
}

// New creates a Synthesizer.
func New(ai anthropic.Client, models config.AnthropicConfig, policy config.SynthesisConfig) *Synthesizer {
	if policy.MaxSchemaRetries == 0 {
		policy.MaxSchemaRetries = 2
	}
	if policy.MaxExpansionRetries == 0 {
		policy.MaxExpansionRetries = 2
	}
	return &Synthesizer{ai: ai, models: models, policy: policy}
}

// Result accounts for one synthesis call chain, including any repair or
// expansion rounds.
type Result struct {
	Model         string
	Usage         anthropic.TokenUsage
	CostUSD       float64
	SchemaRepairs int
	Expansions    int
}

func (r *Result) add(usage anthropic.TokenUsage, model string) {
	r.Model = model
	r.Usage.InputTokens += usage.InputTokens
	r.Usage.OutputTokens += usage.OutputTokens
	r.Usage.CacheCreationInputTokens += usage.CacheCreationInputTokens
	r.Usage.CacheReadInputTokens += usage.CacheReadInputTokens
	r.CostUSD += usage.EstimateCost(model)
}
