package model

import (
	"errors"
	"time"
)

// ActivityKind classifies a normalized activity.
type ActivityKind string

const (
	KindCommit      ActivityKind = "commit"
	KindPullRequest ActivityKind = "pull_request"
	KindReview      ActivityKind = "review"
	KindIssue       ActivityKind = "issue"
	KindPage        ActivityKind = "page"
	KindComment     ActivityKind = "comment"
	KindDesign      ActivityKind = "design"
	KindMeeting     ActivityKind = "meeting"
	KindMessage     ActivityKind = "message"
)

// maxRangeSpan caps how far back a single fetch may reach.
const maxRangeSpan = 31 * 24 * time.Hour

// Activity is a provider-agnostic record of one user action. It is never
// mutated after an adapter produces it.
type Activity struct {
	Provider    ProviderType
	ExternalID  string
	Kind        ActivityKind
	Title       string
	Timestamp   time.Time
	Actor       string
	URL         string
	RawMetadata map[string]string
}

// ActivityKey uniquely identifies an activity across re-fetches.
type ActivityKey struct {
	Provider   ProviderType
	ExternalID string
}

// Key returns the deduplication key of the activity.
func (a Activity) Key() ActivityKey {
	return ActivityKey{Provider: a.Provider, ExternalID: a.ExternalID}
}

// ID returns the string form of the activity key, used to reference the
// activity from stage artifacts.
func (a Activity) ID() string {
	return string(a.Provider) + ":" + a.ExternalID
}

// clone returns a copy that shares no mutable state with a.
func (a Activity) clone() Activity {
	out := a
	if a.RawMetadata != nil {
		out.RawMetadata = make(map[string]string, len(a.RawMetadata))
		for k, v := range a.RawMetadata {
			out.RawMetadata[k] = v
		}
	}
	return out
}

// TimeRange is a half-open [From, To) window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Validate checks that the range is non-empty, ordered and not wider than 31 days.
func (r TimeRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("time range requires both from and to")
	}
	if !r.From.Before(r.To) {
		return errors.New("time range from must be before to")
	}
	if r.To.Sub(r.From) > maxRangeSpan {
		return errors.New("time range must not exceed 31 days")
	}
	return nil
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}
