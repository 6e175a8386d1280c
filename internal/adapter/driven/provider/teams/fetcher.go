// Package teams implements the chat ActivityFetcher against Microsoft Graph.
package teams

import (
	"context"
	"net/url"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	maxItems       = 200
	titleLen       = 120
)

// Fetcher lists chat messages the user sent inside the window.
type Fetcher struct {
	api *apiclient.Client
}

// New creates a Fetcher. Options are applied to the underlying API client.
func New(opts ...apiclient.Option) *Fetcher {
	return &Fetcher{api: apiclient.New(model.ProviderMicrosoftTeams, defaultBaseURL, opts...)}
}

// Provider returns model.ProviderMicrosoftTeams.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderMicrosoftTeams }

type me struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type chatsPage struct {
	Value []struct {
		ID                  string    `json:"id"`
		Topic               string    `json:"topic"`
		ChatType            string    `json:"chatType"`
		LastUpdatedDateTime time.Time `json:"lastUpdatedDateTime"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type messagesPage struct {
	Value    []message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

type message struct {
	ID              string    `json:"id"`
	MessageType     string    `json:"messageType"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	WebURL          string    `json:"webUrl"`
	From            *struct {
		User *me `json:"user"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// FetchActivity scans chats updated since the window start and keeps
// messages authored by the token's user.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	var user me
	if err := f.api.GetJSON(ctx, token.AccessToken, "/me", nil, &user); err != nil {
		return nil, err
	}

	col := apiclient.NewCollector(window, maxItems)
	next := "/me/chats"
	q := url.Values{"$top": {"50"}}
	for next != "" && !col.Full() {
		var page chatsPage
		if err := f.api.GetJSON(ctx, token.AccessToken, next, q, &page); err != nil {
			return nil, err
		}
		for _, chat := range page.Value {
			if chat.LastUpdatedDateTime.Before(window.From) {
				continue
			}
			if err := f.collectChat(ctx, token, user, chat.ID, chat.Topic, window, col); err != nil {
				return nil, err
			}
			if col.Full() {
				break
			}
		}
		next, q = page.NextLink, nil
	}
	return col.Activities(), nil
}

// collectChat pages a chat's messages, newest first, until it passes the
// window start.
func (f *Fetcher) collectChat(ctx context.Context, token model.Token, user me, chatID, topic string, window model.TimeRange, col *apiclient.Collector) error {
	next := "/chats/" + url.PathEscape(chatID) + "/messages"
	q := url.Values{"$top": {"50"}, "$orderby": {"createdDateTime desc"}}

	for next != "" {
		var page messagesPage
		if err := f.api.GetJSON(ctx, token.AccessToken, next, q, &page); err != nil {
			return err
		}
		for _, m := range page.Value {
			if m.CreatedDateTime.Before(window.From) {
				return nil
			}
			if m.MessageType != "message" || m.From == nil || m.From.User == nil || m.From.User.ID != user.ID {
				continue
			}
			text := apiclient.PlainText(m.Body.Content)
			if !col.Add(model.Activity{
				Provider:   model.ProviderMicrosoftTeams,
				ExternalID: chatID + ":" + m.ID,
				Kind:       model.KindMessage,
				Title:      apiclient.Truncate(text, titleLen),
				Timestamp:  m.CreatedDateTime,
				Actor:      user.DisplayName,
				URL:        m.WebURL,
				RawMetadata: map[string]string{
					"chat_id": chatID,
					"topic":   topic,
					"text":    apiclient.Truncate(text, 1000),
				},
			}) {
				return nil
			}
		}
		next, q = page.NextLink, nil
	}
	return nil
}
