// Package slack implements the team messaging ActivityFetcher against the
// Slack Web API.
package slack

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	defaultBaseURL = "https://slack.com/api"
	maxItems       = 200
	pageSize       = 100
	titleLen       = 120
)

// Fetcher searches for messages the token's user posted.
type Fetcher struct {
	api *apiclient.Client
}

// New creates a Fetcher. Options are applied to the underlying API client.
func New(opts ...apiclient.Option) *Fetcher {
	return &Fetcher{api: apiclient.New(model.ProviderSlack, defaultBaseURL, opts...)}
}

// Provider returns model.ProviderSlack.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderSlack }

// envelope is the common part of every Web API response. Slack reports most
// failures as HTTP 200 with ok=false.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type authTest struct {
	envelope
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

type searchResponse struct {
	envelope
	Messages struct {
		Matches []match `json:"matches"`
		Paging  struct {
			Page  int `json:"page"`
			Pages int `json:"pages"`
		} `json:"paging"`
	} `json:"messages"`
}

type match struct {
	TS        string `json:"ts"`
	Text      string `json:"text"`
	Permalink string `json:"permalink"`
	Channel   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
}

// FetchActivity resolves the user with auth.test and pages search.messages.
// Slack's after:/before: filters are day-granular and exclusive, so the
// query is widened by a day on each side and the collector trims to the
// exact window.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	var auth authTest
	if err := f.api.GetJSON(ctx, token.AccessToken, "/auth.test", nil, &auth); err != nil {
		return nil, err
	}
	if err := checkOK(auth.envelope); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("from:<@%s> after:%s before:%s", auth.UserID,
		window.From.UTC().AddDate(0, 0, -1).Format(time.DateOnly),
		window.To.UTC().AddDate(0, 0, 1).Format(time.DateOnly))

	col := apiclient.NewCollector(window, maxItems)
	for page := 1; ; page++ {
		q := url.Values{
			"query":    {query},
			"sort":     {"timestamp"},
			"sort_dir": {"desc"},
			"count":    {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		var resp searchResponse
		if err := f.api.GetJSON(ctx, token.AccessToken, "/search.messages", q, &resp); err != nil {
			return nil, err
		}
		if err := checkOK(resp.envelope); err != nil {
			return nil, err
		}
		for _, m := range resp.Messages.Matches {
			if a, ok := mapMatch(m, auth.User); ok {
				col.Add(a)
			}
		}
		if col.Full() || page >= resp.Messages.Paging.Pages {
			break
		}
	}
	return col.Activities(), nil
}

func mapMatch(m match, user string) (model.Activity, bool) {
	at, ok := parseTS(m.TS)
	if !ok || m.Channel.ID == "" {
		return model.Activity{}, false
	}
	text := strings.Join(strings.Fields(m.Text), " ")
	return model.Activity{
		Provider:   model.ProviderSlack,
		ExternalID: m.Channel.ID + ":" + m.TS,
		Kind:       model.KindMessage,
		Title:      apiclient.Truncate(text, titleLen),
		Timestamp:  at,
		Actor:      user,
		URL:        m.Permalink,
		RawMetadata: map[string]string{
			"channel": m.Channel.Name,
			"text":    apiclient.Truncate(text, 1000),
		},
	}, true
}

// parseTS converts a Slack "seconds.micros" timestamp.
func parseTS(ts string) (time.Time, bool) {
	secStr, fracStr, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var micros int64
	if fracStr != "" {
		if micros, err = strconv.ParseInt(fracStr, 10, 64); err != nil {
			return time.Time{}, false
		}
	}
	return time.Unix(sec, micros*int64(time.Microsecond)).UTC(), true
}

// checkOK maps Slack error codes onto the fetch taxonomy.
func checkOK(env envelope) error {
	if env.OK {
		return nil
	}
	var kind error
	switch env.Error {
	case "invalid_auth", "not_authed", "token_expired", "token_revoked", "account_inactive",
		"missing_scope", "no_permission", "not_allowed_token_type":
		kind = model.ErrUnauthorized
	case "ratelimited":
		kind = model.ErrRateLimited
	case "method_deprecated", "deprecated_endpoint", "unknown_method":
		kind = model.ErrEndpointGone
	default:
		kind = model.ErrUnreachable
	}
	return model.NewFetchError(model.ProviderSlack, kind, fmt.Errorf("slack error %q", env.Error))
}
