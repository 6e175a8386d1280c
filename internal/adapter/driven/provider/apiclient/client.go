// Package apiclient is the shared HTTP plumbing for REST provider adapters:
// bearer authentication, client-side pacing, JSON decoding and mapping of
// HTTP failures onto the fetch error taxonomy.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// maxErrorBody bounds how much of an error response is read for diagnostics.
const maxErrorBody = 4 << 10

// Client issues authenticated JSON requests to one provider's API.
type Client struct {
	provider   model.ProviderType
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root. Intended for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a Client for provider rooted at baseURL.
func New(provider model.ProviderType, baseURL string, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() model.ProviderType { return c.provider }

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON issues a GET for path (relative to the base URL, or absolute) and
// decodes the JSON body into out. Failures are *model.FetchError values.
func (c *Client) GetJSON(ctx context.Context, token, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, token, path, query, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, token, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.provider, err)
	}
	return c.do(ctx, http.MethodPost, token, path, nil, payload, out)
}

func (c *Client) do(ctx context.Context, method, token, path string, query url.Values, body []byte, out any) error {
	target := c.resolve(path, query)

	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewFetchError(c.provider, model.ErrUnreachable, fmt.Errorf("rate limiter: %w", err))
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewFetchError(c.provider, model.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	slog.Debug("provider api call",
		"provider", c.provider,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(c.provider, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewFetchError(c.provider, model.ErrUnreachable, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + query.Encode()
}

// KindForStatus maps an HTTP status code to a fetch error kind.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return model.ErrUnauthorized
	case status == http.StatusNotFound, status == http.StatusGone:
		return model.ErrEndpointGone
	case status == http.StatusTooManyRequests:
		return model.ErrRateLimited
	default:
		return model.ErrUnreachable
	}
}

// StatusError converts a non-2xx response into a *model.FetchError. The
// body is read (bounded) for the error message only.
func StatusError(provider model.ProviderType, resp *http.Response) *model.FetchError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	fe := model.NewFetchError(provider, KindForStatus(resp.StatusCode),
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(firstLine(string(snippet)))))
	if errors.Is(fe.Kind, model.ErrRateLimited) {
		fe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return fe
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. It returns zero
// when the header is absent or malformed.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
