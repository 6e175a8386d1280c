package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// analyzeBatchSize is the number of activities classified per model call.
const analyzeBatchSize = 40

const analyzeSystem = `You classify a software professional's work activities for a work journal.
For every activity in the input, return its category and importance.
category: a short lowercase label such as "feature", "bugfix", "code-review", "documentation", "design", "meeting", "planning", "support" or "communication".
importance: one of "high", "medium", "normal".
Answer with JSON only: {"items":[{"id":"<activity id>","category":"...","importance":"..."}]}`

type analyzeAnswer struct {
	Items []struct {
		ID         string `json:"id"`
		Category   string `json:"category"`
		Importance string `json:"importance"`
	} `json:"items"`
}

// Analyze categorizes every activity. Activities the model omits or answers
// with invalid values get the uncategorized/normal default rather than being
// dropped. Items are sorted by activity id.
func (p *Pipeline) Analyze(ctx context.Context, activities []model.Activity, quality model.QualityLevel) (*model.Analysis, error) {
	h := p.selector.Select(model.StageAnalyzed, quality)
	out := &model.Analysis{Items: make([]model.Categorization, 0, len(activities)), Usage: model.Usage{Model: h.Name}}

	for start := 0; start < len(activities); start += analyzeBatchSize {
		batch := activities[start:min(start+analyzeBatchSize, len(activities))]

		items, usage, err := p.analyzeBatch(ctx, h, batch)
		out.Usage = out.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, items...)
	}

	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ActivityID < out.Items[j].ActivityID })
	return out, nil
}

func (p *Pipeline) analyzeBatch(ctx context.Context, h model.ModelHandle, batch []model.Activity) ([]model.Categorization, model.Usage, error) {
	payload := make([]promptActivity, len(batch))
	for i, a := range batch {
		payload[i] = toPromptActivity(a, nil)
	}
	prompt := fmt.Sprintf("Classify these %d activities:\n%s", len(batch), mustJSON(payload))

	var answer analyzeAnswer
	usage, err := p.call(ctx, model.StageAnalyzed, h, analyzeMaxTokens, analyzeSystem, prompt, func(raw []byte) error {
		answer = analyzeAnswer{}
		return json.Unmarshal(raw, &answer)
	})
	if err != nil {
		return nil, usage, err
	}

	byID := make(map[string]model.Categorization, len(answer.Items))
	for _, item := range answer.Items {
		byID[item.ID] = model.Categorization{
			ActivityID: item.ID,
			Category:   normalizeCategory(item.Category),
			Importance: normalizeImportance(item.Importance),
		}
	}

	items := make([]model.Categorization, len(batch))
	for i, a := range batch {
		c, ok := byID[a.ID()]
		if !ok {
			c = model.Categorization{ActivityID: a.ID(), Category: model.CategoryUncategorized, Importance: model.ImportanceNormal}
		}
		items[i] = c
	}
	return items, usage, nil
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 64 {
		return model.CategoryUncategorized
	}
	return s
}

func normalizeImportance(s string) model.Importance {
	i := model.Importance(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return model.ImportanceNormal
	}
	return i
}
