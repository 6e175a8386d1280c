package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(model.ProviderJira, srv.URL, WithHTTPClient(srv.Client()), WithRateLimit(1000, 100))
}

func TestGetJSON_SendsBearerAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/rest/thing", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	})

	var out struct{ Name string }
	err := c.GetJSON(context.Background(), "tok", "/rest/thing", url.Values{"limit": {"5"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
}

func TestGetJSON_AbsoluteURL(t *testing.T) {
	var hit bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Query().Get("cursor") == "abc"
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.GetJSON(context.Background(), "tok", c.BaseURL()+"/next?cursor=abc", nil, &struct{}{}))
	assert.True(t, hit)
}

func TestGetJSON_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrUnauthorized},
		{http.StatusForbidden, model.ErrUnauthorized},
		{http.StatusNotFound, model.ErrEndpointGone},
		{http.StatusGone, model.ErrEndpointGone},
		{http.StatusTooManyRequests, model.ErrRateLimited},
		{http.StatusInternalServerError, model.ErrUnreachable},
		{http.StatusServiceUnavailable, model.ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
			})

			err := c.GetJSON(context.Background(), "tok", "/x", nil, &struct{}{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var fe *model.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, model.ProviderJira, fe.Provider)
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 7*time.Second, fe.RetryAfter)
			}
		})
	}
}

func TestGetJSON_NetworkFailureIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(model.ProviderSlack, base)
	err := c.GetJSON(context.Background(), "tok", "/x", nil, &struct{}{})
	assert.ErrorIs(t, err, model.ErrUnreachable)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, time.Minute, ParseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
}

func TestCollector(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	window := model.TimeRange{From: base, To: base.Add(24 * time.Hour)}
	c := NewCollector(window, 2)

	assert.True(t, c.Add(model.Activity{ExternalID: "late", Timestamp: base.Add(2 * time.Hour)}))
	assert.True(t, c.Add(model.Activity{ExternalID: "outside", Timestamp: base.Add(-time.Hour)}))
	assert.True(t, c.Add(model.Activity{ExternalID: "late", Timestamp: base.Add(2 * time.Hour)}))
	assert.False(t, c.Add(model.Activity{ExternalID: "early", Timestamp: base.Add(time.Hour)}), "cap reached")
	assert.False(t, c.Add(model.Activity{ExternalID: "extra", Timestamp: base.Add(3 * time.Hour)}))

	got := c.Activities()
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ExternalID)
	assert.Equal(t, "late", got[1].ExternalID)
}
