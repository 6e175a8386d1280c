package jira_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/jira"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

var window = model.TimeRange{
	From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
}

func newTestFetcher(t *testing.T, mux *http.ServeMux) *jira.Fetcher {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return jira.New(apiclient.WithBaseURL(srv.URL), apiclient.WithHTTPClient(srv.Client()), apiclient.WithRateLimit(1000, 10))
}

func resourcesHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = fmt.Fprint(w, `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme","scopes":["read:jira-work"]}]`)
}

func TestFetchActivity_PaginatesWithToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", resourcesHandler)
	mux.HandleFunc("/ex/jira/cloud-1/rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("jql"), "currentUser()")
		jql := r.URL.Query().Get("jql")
		// Bounds are a day wider than the window on both sides.
		assert.Contains(t, jql, `created >= "2026-02-28 00:00" AND created < "2026-03-09 00:00"`)
		assert.Contains(t, jql, `updated >= "2026-02-28 00:00" AND updated < "2026-03-09 00:00"`)
		if r.URL.Query().Get("nextPageToken") == "" {
			_, _ = fmt.Fprint(w, `{"issues":[{"id":"1","key":"PROJ-12","fields":{"summary":"Add rate limiter",
				"created":"2026-02-20T09:00:00.000+0000","updated":"2026-03-03T09:00:00.000+0000",
				"status":{"name":"In Progress"},"issuetype":{"name":"Story"},"project":{"key":"PROJ"}}}],
				"nextPageToken":"p2","isLast":false}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"issues":[{"id":"2","key":"PROJ-13","fields":{"summary":"Docs",
			"created":"2026-03-04T09:00:00.000+0000","updated":"2026-03-04T09:00:00.000+0000",
			"status":{"name":"Done"},"issuetype":{"name":"Task"},"project":{"key":"PROJ"}}}],"isLast":true}`)
	})

	got, err := newTestFetcher(t, mux).FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "PROJ-12", got[0].ExternalID)
	assert.Equal(t, "updated", got[0].RawMetadata["action"])
	assert.Equal(t, "https://acme.atlassian.net/browse/PROJ-12", got[0].URL)
	assert.Equal(t, model.KindIssue, got[0].Kind)

	assert.Equal(t, "PROJ-13", got[1].ExternalID)
	assert.Equal(t, "created", got[1].RawMetadata["action"])
}

func TestFetchActivity_CreatedInWindowUpdatedLater(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", resourcesHandler)
	mux.HandleFunc("/ex/jira/cloud-1/rest/api/3/search/jql", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"issues":[
			{"id":"3","key":"PROJ-20","fields":{"summary":"Spike","created":"2026-03-06T09:00:00.000+0000",
				"updated":"2026-03-15T09:00:00.000+0000","status":{"name":"Open"},"issuetype":{"name":"Task"},"project":{"key":"PROJ"}}},
			{"id":"4","key":"PROJ-21","fields":{"summary":"Edge","created":"2026-02-28T22:00:00.000+0000",
				"updated":"2026-03-08T01:00:00.000+0000","status":{"name":"Open"},"issuetype":{"name":"Task"},"project":{"key":"PROJ"}}}],
			"isLast":true}`)
	})

	got, err := newTestFetcher(t, mux).FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PROJ-20", got[0].ExternalID)
	assert.Equal(t, "created", got[0].RawMetadata["action"])
	assert.Equal(t, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), got[0].Timestamp.UTC())
}

func TestFetchActivity_NoJiraSite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `[{"id":"c","url":"https://acme.atlassian.net","scopes":["search:confluence"]}]`)
	})

	_, err := newTestFetcher(t, mux).FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestFetchActivity_RetiredEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", resourcesHandler)
	mux.HandleFunc("/ex/jira/cloud-1/rest/api/3/search/jql", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, err := newTestFetcher(t, mux).FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	assert.ErrorIs(t, err, model.ErrEndpointGone)
}
