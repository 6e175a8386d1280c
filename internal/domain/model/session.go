package model

import (
	"fmt"
	"time"
)

// SessionTTL is how long a processing session, and every piece of
// third-party data it holds, may exist. It is measured from creation and
// never extended.
const SessionTTL = 30 * time.Minute

// Stage is a processing session's pipeline position.
type Stage string

const (
	StageCreated    Stage = "created"
	StageFetched    Stage = "fetched"
	StageAnalyzed   Stage = "analyzed"
	StageCorrelated Stage = "correlated"
	StageGenerated  Stage = "generated"
)

var stageOrder = map[Stage]int{
	StageCreated:    0,
	StageFetched:    1,
	StageAnalyzed:   2,
	StageCorrelated: 3,
	StageGenerated:  4,
}

// Ordinal returns the stage's position in the pipeline; -1 if unknown.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// Predecessor returns the stage that must be complete before s can run.
func (s Stage) Predecessor() Stage {
	switch s {
	case StageAnalyzed:
		return StageFetched
	case StageCorrelated:
		return StageAnalyzed
	case StageGenerated:
		return StageCorrelated
	case StageFetched:
		return StageCreated
	default:
		return ""
	}
}

// ParseStage accepts either the state name ("analyzed") or the verb used by
// the API ("analyze") for the three pipeline stages.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "analyze", string(StageAnalyzed):
		return StageAnalyzed, nil
	case "correlate", string(StageCorrelated):
		return StageCorrelated, nil
	case "generate", string(StageGenerated):
		return StageGenerated, nil
	}
	return "", fmt.Errorf("unknown pipeline stage %q", s)
}

// ProviderStatus is the outcome of one provider's fetch within a batch.
type ProviderStatus struct {
	Provider  ProviderType
	OK        bool
	ItemCount int
	Reason    string // Failure reason from FailureReason; empty on success.
	Attempts  int
}

// Session is the bounded-lifetime container for one fetch-through-generate run.
type Session struct {
	ID             string
	UserID         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Stage          Stage
	Activities     []Activity
	ProviderStatus map[ProviderType]ProviderStatus
	Artifacts      map[Stage]StageArtifact

	// Revisions holds, per completed stage (fetched included), the store
	// revision its current result was written at. A stage computed from a
	// predecessor is stored only if that predecessor's revision is unchanged.
	Revisions map[Stage]int
}

// Revision returns the revision of stage's current result; 0 if none.
func (s *Session) Revision(stage Stage) int {
	return s.Revisions[stage]
}

// Expired reports whether the session is past its deadline at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Analysis returns the analyzer artifact, or nil.
func (s *Session) Analysis() *Analysis {
	a, _ := s.Artifacts[StageAnalyzed].(*Analysis)
	return a
}

// Correlation returns the correlator artifact, or nil.
func (s *Session) Correlation() *Correlation {
	c, _ := s.Artifacts[StageCorrelated].(*Correlation)
	return c
}

// Generation returns the generator artifact, or nil.
func (s *Session) Generation() *Generation {
	g, _ := s.Artifacts[StageGenerated].(*Generation)
	return g
}

// TotalUsage sums model usage across every stored artifact.
func (s *Session) TotalUsage() Usage {
	var total Usage
	for _, stage := range []Stage{StageAnalyzed, StageCorrelated, StageGenerated} {
		if a, ok := s.Artifacts[stage]; ok {
			total = total.Add(a.StageUsage())
		}
	}
	return total
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Activities = make([]Activity, len(s.Activities))
	for i, a := range s.Activities {
		out.Activities[i] = a.clone()
	}
	out.ProviderStatus = make(map[ProviderType]ProviderStatus, len(s.ProviderStatus))
	for k, v := range s.ProviderStatus {
		out.ProviderStatus[k] = v
	}
	out.Revisions = make(map[Stage]int, len(s.Revisions))
	for k, v := range s.Revisions {
		out.Revisions[k] = v
	}
	out.Artifacts = make(map[Stage]StageArtifact, len(s.Artifacts))
	for k, v := range s.Artifacts {
		out.Artifacts[k] = v.cloneArtifact()
	}
	return &out
}
