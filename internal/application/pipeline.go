package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// stageAttempts is the number of times a stage's model call is made with
// identical input before the stage fails.
const stageAttempts = 2

// Output token budgets per stage call. Batch sizes keep answers well under them.
const (
	analyzeMaxTokens   = 4096
	correlateMaxTokens = 4096
	generateMaxTokens  = 8192
)

// Pipeline runs the analyze, correlate and generate stages. Stages are pure
// functions of their inputs and the model's answers; persistence is the
// caller's concern.
type Pipeline struct {
	llm      driven.LanguageModel
	selector *ModelSelector
	newID    func() string
}

// NewPipeline creates a Pipeline. newID generates draft ids; nil uses
// random UUIDs.
func NewPipeline(llm driven.LanguageModel, selector *ModelSelector, newID func() string) *Pipeline {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Pipeline{llm: llm, selector: selector, newID: newID}
}

// groupBatchActivities bounds the activities sent in one correlate or
// generate call. Groups are never split across calls.
const groupBatchActivities = 40

// batchBySize splits consecutive items into [start, end) ranges whose sizes
// sum to at most limit. An item larger than limit gets a range of its own.
func batchBySize(sizes []int, limit int) [][2]int {
	var out [][2]int
	start, total := 0, 0
	for i, n := range sizes {
		if i > start && total+n > limit {
			out = append(out, [2]int{start, i})
			start, total = i, 0
		}
		total += n
	}
	if start < len(sizes) {
		out = append(out, [2]int{start, len(sizes)})
	}
	return out
}

var (
	// errUnparseable marks a model answer that could not be turned into an artifact.
	errUnparseable = errors.New("model answer is not valid JSON")
	errTruncated   = errors.New("model answer hit the output token limit")
)

// call sends one prompt to the model and decodes the JSON answer with parse.
// A transport failure, a truncated answer or one that fails to parse is retried once with the
// same request. Usage is accumulated across attempts.
func (p *Pipeline) call(ctx context.Context, stage model.Stage, h model.ModelHandle, maxTokens int, system, prompt string, parse func(raw []byte) error) (model.Usage, error) {
	req := model.CompletionRequest{Model: h, System: system, Prompt: prompt, MaxTokens: maxTokens}

	var (
		usage   model.Usage
		lastErr error
		kind    error
	)
	for attempt := 1; attempt <= stageAttempts; attempt++ {
		start := time.Now()
		c, err := p.llm.Complete(ctx, req)
		if err != nil {
			kind, lastErr = model.ErrModelUnavailable, err
			slog.Warn("stage model call failed", "stage", stage, "model", h.Name, "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		usage = usage.Add(p.selector.Usage(h, c))

		var raw []byte
		if c.Truncated {
			err = errTruncated
		} else if raw, err = extractJSON(c.Text); err == nil {
			err = parse(raw)
		}
		if err != nil {
			kind, lastErr = model.ErrInvalidArtifact, err
			slog.Warn("stage model answer rejected", "stage", stage, "model", h.Name, "attempt", attempt, "error", err)
			continue
		}

		slog.Debug("stage model call complete", "stage", stage, "model", h.Name,
			"input_tokens", c.InputTokens, "output_tokens", c.OutputTokens, "duration", time.Since(start))
		return usage, nil
	}
	return usage, &model.StageError{Stage: stage, Kind: kind, Err: lastErr}
}

// extractJSON returns the outermost JSON object in text, tolerating code
// fences and prose around it.
func extractJSON(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errUnparseable
	}
	raw := []byte(text[start : end+1])
	if !json.Valid(raw) {
		return nil, errUnparseable
	}
	return raw, nil
}

// promptActivity is the model-facing view of an activity. Raw metadata is
// reduced to short fields so prompts stay bounded.
type promptActivity struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	Kind       string            `json:"kind"`
	Title      string            `json:"title"`
	Timestamp  string            `json:"timestamp"`
	Category   string            `json:"category,omitempty"`
	Importance string            `json:"importance,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

const (
	maxPromptTitle  = 200
	maxPromptDetail = 300
)

func toPromptActivity(a model.Activity, cat *model.Categorization) promptActivity {
	pa := promptActivity{
		ID:        a.ID(),
		Provider:  string(a.Provider),
		Kind:      string(a.Kind),
		Title:     clip(a.Title, maxPromptTitle),
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
	}
	if cat != nil {
		pa.Category = cat.Category
		pa.Importance = string(cat.Importance)
	}
	for k, v := range a.RawMetadata {
		if v == "" {
			continue
		}
		if pa.Details == nil {
			pa.Details = make(map[string]string)
		}
		pa.Details[k] = clip(v, maxPromptDetail)
	}
	return pa
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// mustJSON marshals prompt payloads. The inputs are plain structs, so
// marshaling cannot fail.
func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("marshal prompt payload: %v", err))
	}
	return string(b)
}
