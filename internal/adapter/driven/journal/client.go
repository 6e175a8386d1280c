// Package journal implements the JournalSink port as an HTTP client of the
// journal-entry storage service.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JournalSink = (*Client)(nil)

const maxAttempts = 4

// Client posts entry drafts to the journal service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackOff overrides the retry schedule. Intended for tests.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// New creates a Client for the service at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type entryRequest struct {
	UserID            string                  `json:"user_id"`
	DraftID           string                  `json:"draft_id"`
	Text              string                  `json:"text"`
	EntryType         model.EntryType         `json:"entry_type"`
	Skills            []string                `json:"skills"`
	SuggestedMetadata model.SuggestedMetadata `json:"suggested_metadata"`
	SourceActivityIDs []string                `json:"source_activity_ids"`
}

type entryResponse struct {
	ID string `json:"id"`
}

// CreateEntry stores one draft. The draft ID is sent as the idempotency key,
// so retries (here or by the caller) never create duplicates. 5xx and
// transport failures are retried with exponential backoff; 4xx are not.
func (c *Client) CreateEntry(ctx context.Context, userID string, draft model.EntryDraft) (string, error) {
	payload, err := json.Marshal(entryRequest{
		UserID:            userID,
		DraftID:           draft.ID,
		Text:              draft.Text,
		EntryType:         draft.EntryType,
		Skills:            draft.ExtractedSkills,
		SuggestedMetadata: draft.SuggestedMetadata,
		SourceActivityIDs: draft.ActivityIDs,
	})
	if err != nil {
		return "", fmt.Errorf("encode journal entry: %w", err)
	}

	op := func() (string, error) {
		return c.post(ctx, draft.ID, payload)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("journal handoff failed, retrying", "draft_id", draft.ID, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxAttempts-1), ctx)
	id, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		return "", fmt.Errorf("create journal entry for draft %s: %w", draft.ID, err)
	}
	return id, nil
}

func (c *Client) post(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/entries", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("journal service status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", backoff.Permanent(fmt.Errorf("journal service status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out entryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode journal response: %w", err))
	}
	return out.ID, nil
}
