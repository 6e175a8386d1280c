package apiclient

import (
	"cmp"
	"slices"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// Collector accumulates activities inside a window up to a cap, ignoring
// duplicate external IDs.
type Collector struct {
	window model.TimeRange
	limit  int
	seen   map[string]struct{}
	items  []model.Activity
}

// NewCollector creates a Collector for window holding at most limit items.
func NewCollector(window model.TimeRange, limit int) *Collector {
	return &Collector{window: window, limit: limit, seen: make(map[string]struct{})}
}

// Add records a if it lies inside the window. It reports false once the
// cap is reached so callers can stop paginating.
func (c *Collector) Add(a model.Activity) bool {
	if c.Full() {
		return false
	}
	if a.ExternalID == "" || !c.window.Contains(a.Timestamp) {
		return true
	}
	if _, dup := c.seen[a.ExternalID]; dup {
		return true
	}
	c.seen[a.ExternalID] = struct{}{}
	c.items = append(c.items, a)
	return !c.Full()
}

// Full reports whether the cap has been reached.
func (c *Collector) Full() bool { return c.limit > 0 && len(c.items) >= c.limit }

// Activities returns the collected activities ordered by timestamp, newest
// last. The result is never nil.
func (c *Collector) Activities() []model.Activity {
	out := slices.Clone(c.items)
	if out == nil {
		out = []model.Activity{}
	}
	slices.SortStableFunc(out, func(a, b model.Activity) int {
		if n := a.Timestamp.Compare(b.Timestamp); n != 0 {
			return n
		}
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
	return out
}
