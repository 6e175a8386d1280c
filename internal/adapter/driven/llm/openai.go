package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LanguageModel = (*OpenAI)(nil)

// OpenAI completes prompts with the Chat Completions API. Any compatible
// endpoint can be targeted through BaseURL.
type OpenAI struct {
	client *openai.Client
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
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

	client := openai.NewClient(opts...)
	return &OpenAI{client: &client}, nil
}

// Complete sends a system + user message pair at temperature zero.
func (o *OpenAI) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model.Name),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(0),
	})
	if err != nil {
		return model.Completion{}, fmt.Errorf("%w: openai %s: %w", model.ErrModelUnavailable, req.Model.Name, err)
	}
	if len(resp.Choices) == 0 {
		return model.Completion{}, fmt.Errorf("%w: openai %s returned no choices", model.ErrModelUnavailable, req.Model.Name)
	}

	return model.Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Truncated:    resp.Choices[0].FinishReason == "length",
	}, nil
}
