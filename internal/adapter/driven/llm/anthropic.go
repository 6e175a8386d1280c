// Package llm implements the LanguageModel port for the supported model
// backends.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Backend names used in model handles.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

const defaultMaxTokens = 4096

// Compile-time interface satisfaction check.
var _ driven.LanguageModel = (*Anthropic)(nil)

// Anthropic completes prompts with the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string // Optional; overrides the API root.
	HTTPClient *http.Client
}

// NewAnthropic creates an Anthropic backend. Retries are left to the
// pipeline, which retries each stage call exactly once.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client}, nil
}

// Complete sends a single-turn message at temperature zero.
func (a *Anthropic) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model.Name),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return model.Completion{}, fmt.Errorf("%w: anthropic %s: %w", model.ErrModelUnavailable, req.Model.Name, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return model.Completion{
		Text:         text.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Truncated:    msg.StopReason == anthropic.StopReasonMaxTokens,
	}, nil
}
