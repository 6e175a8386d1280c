// Package jira implements the issue tracker ActivityFetcher against the
// Jira Cloud REST API v3.
package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/atlassian"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	maxItems = 200
	pageSize = 50
)

// jiraTime is the timestamp layout Jira uses in issue fields.
const jiraTime = "2006-01-02T15:04:05.000-0700"

// Fetcher lists issues the user created, reported, or is assigned to that
// were created or updated inside the window.
type Fetcher struct {
	api *apiclient.Client
}

// New creates a Fetcher. Options are applied to the underlying API client.
func New(opts ...apiclient.Option) *Fetcher {
	return &Fetcher{api: apiclient.New(model.ProviderJira, atlassian.DefaultBaseURL, opts...)}
}

// Provider returns model.ProviderJira.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderJira }

type searchResponse struct {
	Issues        []issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken"`
	IsLast        bool    `json:"isLast"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary   string `json:"summary"`
		Created   string `json:"created"`
		Updated   string `json:"updated"`
		Status    struct{ Name string } `json:"status"`
		IssueType struct{ Name string } `json:"issuetype"`
		Project   struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"project"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
	} `json:"fields"`
}

// FetchActivity runs a JQL search scoped to the current user and window.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	site, err := atlassian.ResolveSite(ctx, f.api, token.AccessToken, "jira")
	if err != nil {
		return nil, err
	}

	from, to := atlassian.QueryWindow(window)
	jql := fmt.Sprintf(
		`(assignee = currentUser() OR reporter = currentUser() OR creator = currentUser()) AND `+
			`((created >= "%s" AND created < "%s") OR (updated >= "%s" AND updated < "%s")) ORDER BY updated DESC`,
		from, to, from, to)

	col := apiclient.NewCollector(window, maxItems)
	path := "/ex/jira/" + site.ID + "/rest/api/3/search/jql"
	q := url.Values{
		"jql":        {jql},
		"fields":     {"summary,created,updated,status,issuetype,project,assignee"},
		"maxResults": {strconv.Itoa(pageSize)},
	}

	for {
		var resp searchResponse
		if err := f.api.GetJSON(ctx, token.AccessToken, path, q, &resp); err != nil {
			return nil, err
		}
		for _, is := range resp.Issues {
			if a, ok := mapIssue(is, site, window); ok {
				col.Add(a)
			}
		}
		if resp.IsLast || resp.NextPageToken == "" || col.Full() {
			break
		}
		q.Set("nextPageToken", resp.NextPageToken)
	}

	return col.Activities(), nil
}

// mapIssue stamps the issue at its last update when that falls inside the
// window, otherwise at its creation.
func mapIssue(is issue, site atlassian.Site, window model.TimeRange) (model.Activity, bool) {
	created, errC := time.Parse(jiraTime, is.Fields.Created)
	updated, errU := time.Parse(jiraTime, is.Fields.Updated)

	var at time.Time
	action := ""
	switch {
	case errU == nil && window.Contains(updated):
		at, action = updated, "updated"
		if errC == nil && created.Equal(updated) {
			action = "created"
		}
	case errC == nil && window.Contains(created):
		at, action = created, "created"
	default:
		return model.Activity{}, false
	}

	meta := map[string]string{
		"key":        is.Key,
		"project":    is.Fields.Project.Key,
		"status":     is.Fields.Status.Name,
		"issue_type": is.Fields.IssueType.Name,
		"action":     action,
		"site":       site.Name,
	}
	actor := ""
	if is.Fields.Assignee != nil {
		actor = is.Fields.Assignee.DisplayName
	}

	return model.Activity{
		Provider:    model.ProviderJira,
		ExternalID:  is.Key,
		Kind:        model.KindIssue,
		Title:       is.Key + " " + is.Fields.Summary,
		Timestamp:   at,
		Actor:       actor,
		URL:         site.URL + "/browse/" + is.Key,
		RawMetadata: meta,
	}, true
}
