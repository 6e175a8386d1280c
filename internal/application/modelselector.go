package application

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// Default catalogue, prices in USD per million tokens.
var defaultCatalogue = map[string]map[model.ModelTier]model.ModelHandle{
	"anthropic": {
		model.TierFast: {Backend: "anthropic", Name: "claude-haiku-4-5", Tier: model.TierFast,
			InputPricePerMTok: 1, OutputPricePerMTok: 5},
		model.TierCapable: {Backend: "anthropic", Name: "claude-sonnet-4-5", Tier: model.TierCapable,
			InputPricePerMTok: 3, OutputPricePerMTok: 15},
	},
	"openai": {
		model.TierFast: {Backend: "openai", Name: "gpt-4o-mini", Tier: model.TierFast,
			InputPricePerMTok: 0.15, OutputPricePerMTok: 0.6},
		model.TierCapable: {Backend: "openai", Name: "gpt-4o", Tier: model.TierCapable,
			InputPricePerMTok: 2.5, OutputPricePerMTok: 10},
	},
}

// ModelPolicy overrides the default catalogue. It is read from YAML:
//
//	fast:
//	  backend: openai
//	  name: gpt-4o-mini
//	  input_price_per_mtok: 0.15
//	  output_price_per_mtok: 0.6
//	capable:
//	  ...
type ModelPolicy struct {
	Fast    *model.ModelHandle `yaml:"fast"`
	Capable *model.ModelHandle `yaml:"capable"`
}

// LoadModelPolicy reads a policy file. Unknown keys are rejected.
func LoadModelPolicy(path string) (*ModelPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model policy: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p ModelPolicy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse model policy %s: %w", path, err)
	}
	return &p, nil
}

// ModelSelector routes pipeline stages to model tiers. Under balanced
// quality the extraction stages (analyze, correlate) use the fast tier and
// generation uses the capable tier; premium uses the capable tier throughout.
type ModelSelector struct {
	tiers map[model.ModelTier]model.ModelHandle
}

// NewModelSelector builds a selector for backend, applying policy overrides
// when policy is non-nil.
func NewModelSelector(backend string, policy *ModelPolicy) (*ModelSelector, error) {
	base, ok := defaultCatalogue[backend]
	if !ok {
		return nil, fmt.Errorf("unknown model backend %q", backend)
	}

	tiers := map[model.ModelTier]model.ModelHandle{
		model.TierFast:    base[model.TierFast],
		model.TierCapable: base[model.TierCapable],
	}
	if policy != nil {
		if err := applyOverride(tiers, model.TierFast, policy.Fast, backend); err != nil {
			return nil, err
		}
		if err := applyOverride(tiers, model.TierCapable, policy.Capable, backend); err != nil {
			return nil, err
		}
	}

	fast, capable := tiers[model.TierFast], tiers[model.TierCapable]
	if fast.Cost(1e6, 1e6) >= capable.Cost(1e6, 1e6) {
		return nil, fmt.Errorf("model policy: fast tier %s must cost less than capable tier %s", fast.Name, capable.Name)
	}
	return &ModelSelector{tiers: tiers}, nil
}

func applyOverride(tiers map[model.ModelTier]model.ModelHandle, tier model.ModelTier, h *model.ModelHandle, backend string) error {
	if h == nil {
		return nil
	}
	if h.Name == "" {
		return fmt.Errorf("model policy: %s tier requires a name", tier)
	}
	if h.InputPricePerMTok < 0 || h.OutputPricePerMTok < 0 {
		return fmt.Errorf("model policy: %s tier prices must not be negative", tier)
	}
	next := *h
	next.Tier = tier
	if next.Backend == "" {
		next.Backend = backend
	}
	tiers[tier] = next
	return nil
}

// Select returns the model for stage at quality.
func (s *ModelSelector) Select(stage model.Stage, quality model.QualityLevel) model.ModelHandle {
	if quality == model.QualityPremium || stage == model.StageGenerated {
		return s.tiers[model.TierCapable]
	}
	return s.tiers[model.TierFast]
}

// Usage converts a completion's token counts into priced usage.
func (s *ModelSelector) Usage(h model.ModelHandle, c model.Completion) model.Usage {
	return model.Usage{
		Model:        h.Name,
		Calls:        1,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		CostUSD:      h.Cost(c.InputTokens, c.OutputTokens),
	}
}
