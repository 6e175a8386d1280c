package teams_test

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
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/teams"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func TestFetchActivity_OwnMessagesOnly(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":"me-1","displayName":"Alice"}`)
	})
	mux.HandleFunc("/me/chats", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			_, _ = fmt.Fprintf(w, `{"value":[{"id":"chat-a","topic":"Release","lastUpdatedDateTime":"2026-03-04T10:00:00Z"}],
				"@odata.nextLink":"%s/me/chats?$skiptoken=2"}`, srv.URL)
			return
		}
		_, _ = fmt.Fprint(w, `{"value":[{"id":"chat-old","lastUpdatedDateTime":"2026-01-04T10:00:00Z"}]}`)
	})
	mux.HandleFunc("/chats/chat-a/messages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"value":[
			{"id":"m3","messageType":"message","createdDateTime":"2026-03-04T10:00:00Z","from":{"user":{"id":"me-1"}},
			 "body":{"contentType":"html","content":"<p>Shipped <b>PROJ-12</b> to staging</p>"}},
			{"id":"m2","messageType":"message","createdDateTime":"2026-03-03T10:00:00Z","from":{"user":{"id":"bob"}},
			 "body":{"content":"nice"}},
			{"id":"m1","messageType":"systemEventMessage","createdDateTime":"2026-03-02T10:00:00Z","from":null,"body":{}},
			{"id":"m0","messageType":"message","createdDateTime":"2026-02-02T10:00:00Z","from":{"user":{"id":"me-1"}},"body":{"content":"old"}}
		]}`)
	})
	mux.HandleFunc("/chats/chat-old/messages", func(http.ResponseWriter, *http.Request) {
		t.Error("stale chats must not be scanned")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := teams.New(apiclient.WithBaseURL(srv.URL), apiclient.WithHTTPClient(srv.Client()), apiclient.WithRateLimit(1000, 10))
	window := model.TimeRange{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}

	got, err := f.FetchActivity(context.Background(), model.Token{AccessToken: "tok"}, window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chat-a:m3", got[0].ExternalID)
	assert.Equal(t, "Shipped PROJ-12 to staging", got[0].Title)
	assert.Equal(t, "Release", got[0].RawMetadata["topic"])
	assert.Equal(t, model.KindMessage, got[0].Kind)
}
