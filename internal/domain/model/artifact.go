package model

import "slices"

// Importance ranks how notable an activity is.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceNormal Importance = "normal"
)

// Valid reports whether i is a known importance.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceHigh, ImportanceMedium, ImportanceNormal:
		return true
	}
	return false
}

// CategoryUncategorized is assigned to activities the analyzer could not classify.
const CategoryUncategorized = "uncategorized"

// EntryType is the journal entry flavor of a generated draft.
type EntryType string

const (
	EntryAchievement EntryType = "achievement"
	EntryLearning    EntryType = "learning"
	EntryReflection  EntryType = "reflection"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryAchievement, EntryLearning, EntryReflection:
		return true
	}
	return false
}

// StageArtifact is the output of one pipeline stage. The set of
// implementations is closed: Analysis, Correlation and Generation.
type StageArtifact interface {
	Stage() Stage
	StageUsage() Usage
	cloneArtifact() StageArtifact
}

// Categorization is the analyzer's verdict for one activity.
type Categorization struct {
	ActivityID string     `json:"activity_id"`
	Category   string     `json:"category"`
	Importance Importance `json:"importance"`
}

// Analysis is the analyzer stage artifact. Items are sorted by ActivityID.
type Analysis struct {
	Items []Categorization `json:"items"`
	Usage Usage            `json:"usage"`
}

func (a *Analysis) Stage() Stage      { return StageAnalyzed }
func (a *Analysis) StageUsage() Usage { return a.Usage }

func (a *Analysis) cloneArtifact() StageArtifact {
	out := *a
	out.Items = slices.Clone(a.Items)
	return &out
}

// ByActivity indexes the categorizations by activity ID.
func (a *Analysis) ByActivity() map[string]Categorization {
	out := make(map[string]Categorization, len(a.Items))
	for _, item := range a.Items {
		out[item.ActivityID] = item
	}
	return out
}

// CorrelationGroup is a set of activities judged to be one unit of work.
type CorrelationGroup struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	ActivityIDs []string `json:"activity_ids"`
	References  []string `json:"references"` // Shared references that justified the grouping.
}

// Correlation is the correlator stage artifact. Every analyzed activity
// belongs to exactly one group.
type Correlation struct {
	Groups []CorrelationGroup `json:"groups"`
	Usage  Usage              `json:"usage"`
}

func (c *Correlation) Stage() Stage      { return StageCorrelated }
func (c *Correlation) StageUsage() Usage { return c.Usage }

func (c *Correlation) cloneArtifact() StageArtifact {
	out := *c
	out.Groups = make([]CorrelationGroup, len(c.Groups))
	for i, g := range c.Groups {
		g.ActivityIDs = slices.Clone(g.ActivityIDs)
		g.References = slices.Clone(g.References)
		out.Groups[i] = g
	}
	return &out
}

// SuggestedMetadata carries the generator's guesses for entry fields owned
// by the journal collaborator.
type SuggestedMetadata struct {
	Project string `json:"project,omitempty"`
	Client  string `json:"client,omitempty"`
}

// EntryDraft is the pipeline's terminal output.
type EntryDraft struct {
	ID                string            `json:"id"`
	Text              string            `json:"text"`
	EntryType         EntryType         `json:"entry_type"`
	ExtractedSkills   []string          `json:"extracted_skills"`
	SuggestedMetadata SuggestedMetadata `json:"suggested_metadata"`
	ActivityIDs       []string          `json:"activity_ids"`
}

// Generation is the generator stage artifact.
type Generation struct {
	Drafts []EntryDraft `json:"drafts"`
	Usage  Usage        `json:"usage"`
}

func (g *Generation) Stage() Stage      { return StageGenerated }
func (g *Generation) StageUsage() Usage { return g.Usage }

func (g *Generation) cloneArtifact() StageArtifact {
	out := *g
	out.Drafts = make([]EntryDraft, len(g.Drafts))
	for i, d := range g.Drafts {
		d.ExtractedSkills = slices.Clone(d.ExtractedSkills)
		d.ActivityIDs = slices.Clone(d.ActivityIDs)
		out.Drafts[i] = d
	}
	return &out
}
