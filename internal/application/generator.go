package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

const generateSystem = `You write work-journal entries for a software professional from groups of their activities.
Write one entry per meaningful unit of work; small related groups may be combined into one entry.
Only describe work that appears in the input. Never invent activities, people, numbers or outcomes.
Each entry: "text" (1-4 sentences, first person, Markdown allowed), "entry_type" ("achievement", "learning" or "reflection"),
"skills" (short lowercase skill names), "project" and "client" (empty when unknown), and "activity_ids" listing the input activity ids the entry is based on.
Answer with JSON only: {"drafts":[{"text":"...","entry_type":"achievement","skills":[],"project":"","client":"","activity_ids":[]}]}`

type generateAnswer struct {
	Drafts []struct {
		Text        string   `json:"text"`
		EntryType   string   `json:"entry_type"`
		Skills      []string `json:"skills"`
		Project     string   `json:"project"`
		Client      string   `json:"client"`
		ActivityIDs []string `json:"activity_ids"`
	} `json:"drafts"`
}

var errNoUsableDrafts = errors.New("model answer contains no draft referencing session activities")

// Generate writes entry drafts from the correlated groups. Drafts may only
// reference activities of the session: unknown ids are dropped and drafts
// left without any id are discarded. Groups are sent in batches so each
// answer fits the output budget.
func (p *Pipeline) Generate(ctx context.Context, activities []model.Activity, analysis *model.Analysis, correlation *model.Correlation, quality model.QualityLevel) (*model.Generation, error) {
	h := p.selector.Select(model.StageGenerated, quality)
	out := &model.Generation{Drafts: []model.EntryDraft{}, Usage: model.Usage{Model: h.Name}}
	if len(correlation.Groups) == 0 {
		return out, nil
	}

	byID := make(map[string]model.Activity, len(activities))
	for _, a := range activities {
		byID[a.ID()] = a
	}
	cats := analysis.ByActivity()

	sizes := make([]int, len(correlation.Groups))
	for i, g := range correlation.Groups {
		sizes[i] = len(g.ActivityIDs)
	}
	for _, r := range batchBySize(sizes, groupBatchActivities) {
		drafts, usage, err := p.generateBatch(ctx, h, correlation.Groups[r[0]:r[1]], byID, cats)
		out.Usage = out.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		out.Drafts = append(out.Drafts, drafts...)
	}
	return out, nil
}

// generateBatch writes drafts for one batch of groups. Each batch must
// yield at least one usable draft.
func (p *Pipeline) generateBatch(ctx context.Context, h model.ModelHandle, groups []model.CorrelationGroup, byID map[string]model.Activity, cats map[string]model.Categorization) ([]model.EntryDraft, model.Usage, error) {
	payload := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		members := make([]promptActivity, 0, len(g.ActivityIDs))
		for _, id := range g.ActivityIDs {
			a, ok := byID[id]
			if !ok {
				continue
			}
			c := cats[id]
			members = append(members, toPromptActivity(a, &c))
		}
		payload = append(payload, map[string]any{
			"id":         g.ID,
			"label":      g.Label,
			"activities": members,
		})
	}
	prompt := fmt.Sprintf("Write journal entries for these %d groups of activity:\n%s", len(payload), mustJSON(payload))

	var drafts []model.EntryDraft
	usage, err := p.call(ctx, model.StageGenerated, h, generateMaxTokens, generateSystem, prompt, func(raw []byte) error {
		var answer generateAnswer
		if err := json.Unmarshal(raw, &answer); err != nil {
			return err
		}
		drafts = p.validDrafts(answer, byID)
		if len(drafts) == 0 {
			return errNoUsableDrafts
		}
		return nil
	})
	if err != nil {
		return nil, usage, err
	}
	return drafts, usage, nil
}

func (p *Pipeline) validDrafts(answer generateAnswer, known map[string]model.Activity) []model.EntryDraft {
	drafts := make([]model.EntryDraft, 0, len(answer.Drafts))
	for _, d := range answer.Drafts {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}

		var ids []string
		seen := make(map[string]bool, len(d.ActivityIDs))
		for _, id := range d.ActivityIDs {
			if _, ok := known[id]; ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)

		entryType := model.EntryType(strings.ToLower(strings.TrimSpace(d.EntryType)))
		if !entryType.Valid() {
			entryType = model.EntryAchievement
		}

		drafts = append(drafts, model.EntryDraft{
			ID:              p.newID(),
			Text:            text,
			EntryType:       entryType,
			ExtractedSkills: normalizeSkills(d.Skills),
			SuggestedMetadata: model.SuggestedMetadata{
				Project: strings.TrimSpace(d.Project),
				Client:  strings.TrimSpace(d.Client),
			},
			ActivityIDs: ids,
		})
	}
	return drafts
}

func normalizeSkills(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
