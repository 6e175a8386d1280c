package confluence_test

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
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/confluence"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func TestFetchActivity_FollowsNextLinkAndStripsExcerpt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme","scopes":["search:confluence"]}]`)
	})
	mux.HandleFunc("/ex/confluence/cloud-1/wiki/rest/api/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			assert.Contains(t, r.URL.Query().Get("cql"), "contributor = currentUser()")
			_, _ = fmt.Fprint(w, `{"results":[{"content":{"id":"101","type":"page","title":"Rate limiting design","space":{"key":"ENG"}},
				"excerpt":"How we <b>limit</b> requests for PROJ-12","url":"/spaces/ENG/pages/101","lastModified":"2026-03-02T12:00:00.000Z"}],
				"_links":{"next":"/rest/api/search?cql=x&cursor=abc"}}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"results":[{"content":{"id":"102","type":"blogpost","title":"Week notes"},
			"excerpt":"","url":"/spaces/ENG/blog/102","lastModified":"2026-03-05T12:00:00.000Z"}],"_links":{}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := confluence.New(apiclient.WithBaseURL(srv.URL), apiclient.WithHTTPClient(srv.Client()), apiclient.WithRateLimit(1000, 10))
	window := model.TimeRange{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}

	got, err := f.FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "101", got[0].ExternalID)
	assert.Equal(t, model.KindPage, got[0].Kind)
	assert.Equal(t, "How we limit requests for PROJ-12", got[0].RawMetadata["excerpt"])
	assert.Equal(t, "https://acme.atlassian.net/wiki/spaces/ENG/pages/101", got[0].URL)
	assert.Equal(t, "ENG", got[0].RawMetadata["space"])

	assert.Equal(t, "102", got[1].ExternalID)
}

func TestFetchActivity_CreatedInWindowEditedLater(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme","scopes":["search:confluence"]}]`)
	})
	mux.HandleFunc("/ex/confluence/cloud-1/wiki/rest/api/search", func(w http.ResponseWriter, r *http.Request) {
		cql := r.URL.Query().Get("cql")
		// Bounds are a day wider than the window on both sides.
		assert.Contains(t, cql, `created >= "2026-02-28 00:00"`)
		assert.Contains(t, cql, `lastmodified < "2026-03-09 00:00"`)
		assert.Contains(t, r.URL.Query().Get("expand"), "content.history")
		_, _ = fmt.Fprint(w, `{"results":[
			{"content":{"id":"201","type":"page","title":"Runbook","history":{"createdDate":"2026-03-03T08:00:00.000Z"}},
				"url":"/spaces/OPS/pages/201","lastModified":"2026-03-20T12:00:00.000Z"},
			{"content":{"id":"202","type":"page","title":"Outside","history":{"createdDate":"2026-02-28T20:00:00.000Z"}},
				"url":"/spaces/OPS/pages/202","lastModified":"2026-02-28T21:00:00.000Z"}],"_links":{}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := confluence.New(apiclient.WithBaseURL(srv.URL), apiclient.WithHTTPClient(srv.Client()), apiclient.WithRateLimit(1000, 10))
	window := model.TimeRange{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}

	got, err := f.FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "201", got[0].ExternalID)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), got[0].Timestamp.UTC())
	assert.Equal(t, "created", got[0].RawMetadata["action"])
}
