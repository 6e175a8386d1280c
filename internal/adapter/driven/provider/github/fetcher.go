// Package github implements the code host ActivityFetcher using the
// go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	// maxItems is also the ceiling of the GitHub events API itself.
	maxItems      = 300
	cacheEntries  = 1024
	defaultTTL    = 5 * time.Minute
	eventsPerPage = 100
)

// Fetcher reads a user's recent activity from the GitHub events API.
type Fetcher struct {
	httpClient *http.Client
	baseURL    *url.URL
}

// Option configures a Fetcher.
type Option func(*fetcherConfig)

type fetcherConfig struct {
	httpClient *http.Client
	baseURL    string
	cacheTTL   time.Duration
}

// WithHTTPClient replaces the default transport stack. Intended for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *fetcherConfig) { c.httpClient = hc }
}

// WithBaseURL points the client at a different API root. Intended for tests.
func WithBaseURL(u string) Option {
	return func(c *fetcherConfig) { c.baseURL = u }
}

// WithCacheTTL bounds how long conditional-request cache entries live.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *fetcherConfig) { c.cacheTTL = ttl }
}

// New creates a Fetcher with the following transport stack:
//  1. httpcache (ETag revalidation, entries expire after the cache TTL)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (REST client, per-call token auth)
//
// GitHub responses carry Vary: Authorization, so cached entries are never
// served to a different token.
func New(opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{cacheTTL: defaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		cacheTransport := &httpcache.Transport{
			Cache:               newResponseCache(cacheEntries, cfg.cacheTTL),
			MarkCachedResponses: true,
		}
		hc = github_ratelimit.NewClient(cacheTransport)
	}

	f := &Fetcher{httpClient: hc}
	if cfg.baseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		f.baseURL = u
	}
	return f, nil
}

// Provider returns model.ProviderGitHub.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderGitHub }

// FetchActivity lists events performed by the token's user inside window.
// Events arrive newest first; paging stops at the first page that reaches
// past the start of the window.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	client := gh.NewClient(f.httpClient).WithAuthToken(token.AccessToken)
	if f.baseURL != nil {
		client.BaseURL = f.baseURL
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, mapError(err)
	}
	login := user.GetLogin()

	col := apiclient.NewCollector(window, maxItems)
	opts := &gh.ListOptions{PerPage: eventsPerPage}

	for {
		events, resp, err := client.Activity.ListEventsPerformedByUser(ctx, login, false, opts)
		if err != nil {
			return nil, mapError(err)
		}
		logRateLimit(resp, "events", opts.Page, len(events))

		reachedStart := false
		for _, ev := range events {
			if ev.GetCreatedAt().Time.Before(window.From) {
				reachedStart = true
				continue
			}
			for _, a := range mapEvent(ev, login) {
				col.Add(a)
			}
		}

		if reachedStart || col.Full() || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return col.Activities(), nil
}

// mapEvent converts one event into zero or more activities. It uses GetXxx()
// helpers exclusively to avoid nil pointer panics.
func mapEvent(ev *gh.Event, login string) []model.Activity {
	payload, err := ev.ParsePayload()
	if err != nil {
		slog.Debug("skipping unparsable github event", "type", ev.GetType(), "error", err)
		return nil
	}

	repo := ev.GetRepo().GetName()
	at := ev.GetCreatedAt().Time
	base := model.Activity{
		Provider:  model.ProviderGitHub,
		Timestamp: at,
		Actor:     login,
	}
	meta := func(kv ...string) map[string]string {
		m := map[string]string{"repo": repo, "event": ev.GetType()}
		for i := 0; i+1 < len(kv); i += 2 {
			if kv[i+1] != "" {
				m[kv[i]] = kv[i+1]
			}
		}
		return m
	}

	switch p := payload.(type) {
	case *gh.PushEvent:
		var out []model.Activity
		for _, c := range p.Commits {
			sha := c.GetSHA()
			if sha == "" {
				sha = c.GetID()
			}
			if sha == "" {
				continue
			}
			a := base
			a.ExternalID = "commit:" + repo + "@" + sha
			a.Kind = model.KindCommit
			a.Title = firstLine(c.GetMessage())
			a.URL = "https://github.com/" + repo + "/commit/" + sha
			a.RawMetadata = meta("sha", sha, "ref", p.GetRef(), "message", c.GetMessage())
			out = append(out, a)
		}
		if len(out) == 0 && p.GetHead() != "" {
			a := base
			a.ExternalID = "commit:" + repo + "@" + p.GetHead()
			a.Kind = model.KindCommit
			a.Title = "Pushed to " + strings.TrimPrefix(p.GetRef(), "refs/heads/")
			a.URL = "https://github.com/" + repo + "/commit/" + p.GetHead()
			a.RawMetadata = meta("sha", p.GetHead(), "ref", p.GetRef())
			out = append(out, a)
		}
		return out

	case *gh.PullRequestEvent:
		pr := p.GetPullRequest()
		a := base
		a.ExternalID = fmt.Sprintf("pr:%s#%d:%s:%s", repo, pr.GetNumber(), p.GetAction(), ev.GetID())
		a.Kind = model.KindPullRequest
		a.Title = pr.GetTitle()
		a.URL = pr.GetHTMLURL()
		a.RawMetadata = meta("number", strconv.Itoa(pr.GetNumber()), "action", p.GetAction(),
			"branch", pr.GetHead().GetRef(), "body", pr.GetBody(), "merged", strconv.FormatBool(pr.GetMerged()))
		return []model.Activity{a}

	case *gh.PullRequestReviewEvent:
		pr := p.GetPullRequest()
		r := p.GetReview()
		a := base
		a.ExternalID = fmt.Sprintf("review:%s#%d:%d", repo, pr.GetNumber(), r.GetID())
		a.Kind = model.KindReview
		a.Title = "Reviewed: " + pr.GetTitle()
		a.URL = r.GetHTMLURL()
		a.RawMetadata = meta("number", strconv.Itoa(pr.GetNumber()), "state", r.GetState(), "body", r.GetBody())
		return []model.Activity{a}

	case *gh.PullRequestReviewCommentEvent:
		pr := p.GetPullRequest()
		c := p.GetComment()
		a := base
		a.ExternalID = fmt.Sprintf("review-comment:%s:%d", repo, c.GetID())
		a.Kind = model.KindComment
		a.Title = "Commented on " + pr.GetTitle()
		a.URL = c.GetHTMLURL()
		a.RawMetadata = meta("number", strconv.Itoa(pr.GetNumber()), "body", c.GetBody(), "path", c.GetPath())
		return []model.Activity{a}

	case *gh.IssuesEvent:
		is := p.GetIssue()
		a := base
		a.ExternalID = fmt.Sprintf("issue:%s#%d:%s:%s", repo, is.GetNumber(), p.GetAction(), ev.GetID())
		a.Kind = model.KindIssue
		a.Title = is.GetTitle()
		a.URL = is.GetHTMLURL()
		a.RawMetadata = meta("number", strconv.Itoa(is.GetNumber()), "action", p.GetAction(), "body", is.GetBody())
		return []model.Activity{a}

	case *gh.IssueCommentEvent:
		is := p.GetIssue()
		c := p.GetComment()
		a := base
		a.ExternalID = fmt.Sprintf("comment:%s:%d", repo, c.GetID())
		a.Kind = model.KindComment
		a.Title = "Commented on " + is.GetTitle()
		a.URL = c.GetHTMLURL()
		a.RawMetadata = meta("number", strconv.Itoa(is.GetNumber()), "body", c.GetBody())
		return []model.Activity{a}
	}
	return nil
}

// mapError translates go-github errors into fetch errors.
func mapError(err error) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		fe := model.NewFetchError(model.ProviderGitHub, model.ErrRateLimited, err)
		fe.RetryAfter = max(time.Until(rle.Rate.Reset.Time), 0)
		return fe
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		fe := model.NewFetchError(model.ProviderGitHub, model.ErrRateLimited, err)
		fe.RetryAfter = abuse.GetRetryAfter()
		return fe
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		fe := model.NewFetchError(model.ProviderGitHub, apiclient.KindForStatus(er.Response.StatusCode), err)
		if er.Response.StatusCode == http.StatusTooManyRequests {
			fe.RetryAfter = apiclient.ParseRetryAfter(er.Response.Header.Get("Retry-After"), time.Now())
		}
		return fe
	}
	return model.NewFetchError(model.ProviderGitHub, model.ErrUnreachable, err)
}

// logRateLimit logs rate limit information from a GitHub API response.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
