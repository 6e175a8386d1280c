package model

import "fmt"

// QualityLevel is the cost/capability policy for model routing.
type QualityLevel string

const (
	QualityBalanced QualityLevel = "balanced"
	QualityPremium  QualityLevel = "premium"
)

// ParseQualityLevel defaults an empty string to balanced.
func ParseQualityLevel(s string) (QualityLevel, error) {
	switch QualityLevel(s) {
	case "", QualityBalanced:
		return QualityBalanced, nil
	case QualityPremium:
		return QualityPremium, nil
	}
	return "", fmt.Errorf("unknown quality level %q", s)
}

// ModelTier is a capability/cost class of language model.
type ModelTier string

const (
	TierFast    ModelTier = "fast"    // Low cost, low latency; extraction and classification.
	TierCapable ModelTier = "capable" // Higher capability; free-text synthesis.
)

// ModelHandle names a concrete model and its pricing.
type ModelHandle struct {
	Backend            string    `json:"backend" yaml:"backend"`
	Name               string    `json:"name" yaml:"name"`
	Tier               ModelTier `json:"tier" yaml:"tier"`
	InputPricePerMTok  float64   `json:"input_price_per_mtok" yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64   `json:"output_price_per_mtok" yaml:"output_price_per_mtok"`
}

// Cost returns the USD cost of the given token counts on this model.
func (m ModelHandle) Cost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*m.InputPricePerMTok + float64(outputTokens)*m.OutputPricePerMTok) / 1e6
}

// Usage records model consumption for a stage.
type Usage struct {
	Model        string  `json:"model,omitempty"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add returns the sum of two usages. The model name is kept only when both agree.
func (u Usage) Add(o Usage) Usage {
	model := u.Model
	if model == "" {
		model = o.Model
	} else if o.Model != "" && o.Model != model {
		model = "mixed"
	}
	return Usage{
		Model:        model,
		Calls:        u.Calls + o.Calls,
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// CompletionRequest is a single-turn prompt to a language model.
type CompletionRequest struct {
	Model     ModelHandle
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is a language model's answer.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	// Truncated is set when the answer stopped at the output token limit.
	Truncated bool
}
