package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Failure reasons reported without calling an adapter.
const (
	ReasonDisabled    = "disabled"
	ReasonUnsupported = "unsupported"
	ReasonTimeout     = "timeout"
)

// TokenSource supplies valid provider tokens. *Vault implements it.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string, provider model.ProviderType) (model.Token, error)
	ForceRefresh(ctx context.Context, userID string, provider model.ProviderType) (model.Token, error)
}

// FetchOptions configures a FetchOrchestrator. Zero values take defaults.
type FetchOptions struct {
	// Enabled limits which providers may be fetched. Nil enables every
	// registered provider.
	Enabled        map[model.ProviderType]bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Concurrency    int
	// Timeout bounds one provider's fetch including its retries.
	Timeout time.Duration
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = len(model.AllProviders())
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	return o
}

// FetchResult is the outcome of one FetchAll batch.
type FetchResult struct {
	Activities []model.Activity
	Status     map[model.ProviderType]model.ProviderStatus
}

// NoActivity reports the "no activity found" outcome: the batch completed
// but no provider returned anything. It is not an error.
func (r FetchResult) NoActivity() bool {
	return len(r.Activities) == 0
}

// FetchOrchestrator fans a fetch out to provider adapters concurrently and
// merges the results. A provider's failure is recorded in its status and
// never aborts the batch.
type FetchOrchestrator struct {
	fetchers map[model.ProviderType]driven.ActivityFetcher
	tokens   TokenSource
	opts     FetchOptions
}

// NewFetchOrchestrator creates a FetchOrchestrator over the given adapters.
func NewFetchOrchestrator(fetchers map[model.ProviderType]driven.ActivityFetcher, tokens TokenSource, opts FetchOptions) *FetchOrchestrator {
	return &FetchOrchestrator{
		fetchers: fetchers,
		tokens:   tokens,
		opts:     opts.withDefaults(),
	}
}

// FetchAll fetches window from every requested provider. Activities are
// deduplicated by (provider, external id) and ordered by timestamp then id.
func (o *FetchOrchestrator) FetchAll(ctx context.Context, userID string, providers []model.ProviderType, window model.TimeRange) FetchResult {
	result := FetchResult{Status: make(map[model.ProviderType]model.ProviderStatus, len(providers))}

	var (
		mu      sync.Mutex
		batches [][]model.Activity
		g       errgroup.Group
	)
	g.SetLimit(o.opts.Concurrency)

	seen := make(map[model.ProviderType]bool, len(providers))
	for _, p := range providers {
		if seen[p] {
			continue
		}
		seen[p] = true

		fetcher, ok := o.fetchers[p]
		switch {
		case !ok:
			result.Status[p] = model.ProviderStatus{Provider: p, Reason: ReasonUnsupported}
			continue
		case o.opts.Enabled != nil && !o.opts.Enabled[p]:
			result.Status[p] = model.ProviderStatus{Provider: p, Reason: ReasonDisabled}
			continue
		}

		g.Go(func() error {
			acts, status := o.fetchOne(ctx, userID, fetcher, window)
			mu.Lock()
			defer mu.Unlock()
			result.Status[p] = status
			if status.OK {
				batches = append(batches, acts)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Activities = mergeActivities(batches)

	// Counts reflect what survived deduplication.
	counts := make(map[model.ProviderType]int, len(result.Status))
	for _, a := range result.Activities {
		counts[a.Provider]++
	}
	for p, st := range result.Status {
		if st.OK {
			st.ItemCount = counts[p]
			result.Status[p] = st
		}
	}
	return result
}

// fetchOne runs one provider's fetch with its retry policy.
func (o *FetchOrchestrator) fetchOne(ctx context.Context, userID string, fetcher driven.ActivityFetcher, window model.TimeRange) ([]model.Activity, model.ProviderStatus) {
	p := fetcher.Provider()
	status := model.ProviderStatus{Provider: p}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	token, err := o.tokens.GetValidToken(ctx, userID, p)
	if err != nil {
		status.Reason = failureReason(err)
		slog.Warn("provider fetch skipped", "provider", p, "user_id", userID, "reason", status.Reason, "error", err)
		return nil, status
	}

	refreshed := false
	call := func() ([]model.Activity, error) {
		status.Attempts++
		acts, err := fetcher.FetchActivity(ctx, token, window)
		if err == nil || !errors.Is(err, model.ErrUnauthorized) || refreshed {
			return acts, err
		}

		// One forced refresh per fetch; a second Unauthorized is final.
		refreshed = true
		token, err = o.tokens.ForceRefresh(ctx, userID, p)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return fetcher.FetchActivity(ctx, token, window)
	}

	hb := newHintedBackOff(o.opts.InitialBackoff, o.opts.MaxBackoff)
	op := func() ([]model.Activity, error) {
		acts, err := call()
		if err == nil {
			return acts, nil
		}
		var fe *model.FetchError
		switch {
		case errors.Is(err, model.ErrEndpointGone), errors.Is(err, model.ErrUnauthorized):
			return nil, backoff.Permanent(err)
		case errors.As(err, &fe) && errors.Is(err, model.ErrRateLimited):
			hb.hint = fe.RetryAfter
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("provider fetch failed, retrying", "provider", p, "attempt", status.Attempts, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(hb, uint64(o.opts.MaxAttempts-1)), ctx)
	acts, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		status.Reason = failureReason(err)
		slog.Warn("provider fetch failed", "provider", p, "user_id", userID,
			"reason", status.Reason, "attempts", status.Attempts, "error", err)
		return nil, status
	}

	status.OK = true
	slog.Info("provider fetch complete", "provider", p, "items", len(acts),
		"attempts", status.Attempts, "duration", time.Since(start))
	return acts, status
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return model.FailureReason(err)
}

// mergeActivities deduplicates by activity key and orders by timestamp, then id.
func mergeActivities(batches [][]model.Activity) []model.Activity {
	seen := make(map[model.ActivityKey]struct{})
	out := make([]model.Activity, 0)
	for _, batch := range batches {
		for _, a := range batch {
			if _, dup := seen[a.Key()]; dup {
				continue
			}
			seen[a.Key()] = struct{}{}
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// hintedBackOff is exponential backoff that waits at least as long as the
// last provider-supplied Retry-After hint.
type hintedBackOff struct {
	exp  *backoff.ExponentialBackOff
	hint time.Duration
}

func newHintedBackOff(initial, maxInterval time.Duration) *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0
	return &hintedBackOff{exp: exp}
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.exp.NextBackOff()
	if h.hint > next {
		next = h.hint
	}
	h.hint = 0
	return next
}

func (h *hintedBackOff) Reset() {
	h.exp.Reset()
	h.hint = 0
}

