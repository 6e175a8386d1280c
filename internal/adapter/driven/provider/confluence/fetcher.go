// Package confluence implements the wiki ActivityFetcher against the
// Confluence Cloud search API.
package confluence

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/atlassian"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	maxItems   = 100
	pageSize   = 50
	excerptLen = 280
)

// Fetcher lists pages and blog posts the user created or edited.
type Fetcher struct {
	api *apiclient.Client
}

// New creates a Fetcher. Options are applied to the underlying API client.
func New(opts ...apiclient.Option) *Fetcher {
	return &Fetcher{api: apiclient.New(model.ProviderConfluence, atlassian.DefaultBaseURL, opts...)}
}

// Provider returns model.ProviderConfluence.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderConfluence }

type searchResponse struct {
	Results []result `json:"results"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

type result struct {
	Content struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		Space struct {
			Key string `json:"key"`
		} `json:"space"`
		History struct {
			CreatedDate string `json:"createdDate"`
		} `json:"history"`
	} `json:"content"`
	Title                 string `json:"title"`
	Excerpt               string `json:"excerpt"`
	URL                   string `json:"url"`
	LastModified          string `json:"lastModified"`
	ResultGlobalContainer struct {
		Title string `json:"title"`
	} `json:"resultGlobalContainer"`
}

// FetchActivity runs a CQL search for content the user contributed to
// inside the window.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	site, err := atlassian.ResolveSite(ctx, f.api, token.AccessToken, "confluence")
	if err != nil {
		return nil, err
	}

	from, to := atlassian.QueryWindow(window)
	cql := fmt.Sprintf(
		`contributor = currentUser() AND type in (page, blogpost) AND `+
			`((created >= "%s" AND created < "%s") OR (lastmodified >= "%s" AND lastmodified < "%s")) ORDER BY lastmodified DESC`,
		from, to, from, to)

	wikiRoot := "/ex/confluence/" + site.ID + "/wiki"
	path := wikiRoot + "/rest/api/search"
	q := url.Values{
		"cql":    {cql},
		"limit":  {fmt.Sprint(pageSize)},
		"expand": {"content.space,content.history"},
	}

	col := apiclient.NewCollector(window, maxItems)
	for {
		var resp searchResponse
		if err := f.api.GetJSON(ctx, token.AccessToken, path, q, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if a, ok := mapResult(r, site, window); ok {
				col.Add(a)
			}
		}
		if resp.Links.Next == "" || col.Full() {
			break
		}
		// next is relative to the wiki root and already carries the query.
		path, q = wikiRoot+resp.Links.Next, nil
	}

	return col.Activities(), nil
}

// mapResult stamps the content at its last modification when that falls
// inside the window, otherwise at its creation.
func mapResult(r result, site atlassian.Site, window model.TimeRange) (model.Activity, bool) {
	if r.Content.ID == "" {
		return model.Activity{}, false
	}
	modified, errM := time.Parse(time.RFC3339, r.LastModified)
	created, errC := time.Parse(time.RFC3339, r.Content.History.CreatedDate)

	var at time.Time
	action := ""
	switch {
	case errM == nil && window.Contains(modified):
		at, action = modified, "updated"
		if errC == nil && created.Equal(modified) {
			action = "created"
		}
	case errC == nil && window.Contains(created):
		at, action = created, "created"
	default:
		return model.Activity{}, false
	}

	title := r.Content.Title
	if title == "" {
		title = apiclient.PlainText(r.Title)
	}
	link := r.URL
	if link != "" && !strings.HasPrefix(link, "http") {
		link = site.URL + "/wiki" + link
	}

	return model.Activity{
		Provider:   model.ProviderConfluence,
		ExternalID: r.Content.ID,
		Kind:       model.KindPage,
		Title:      title,
		Timestamp:  at,
		URL:        link,
		RawMetadata: map[string]string{
			"space":        r.Content.Space.Key,
			"space_title":  r.ResultGlobalContainer.Title,
			"content_type": r.Content.Type,
			"action":       action,
			"excerpt":      apiclient.Truncate(apiclient.PlainText(r.Excerpt), excerptLen),
		},
	}, true
}
