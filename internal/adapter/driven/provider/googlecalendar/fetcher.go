// Package googlecalendar implements the calendar ActivityFetcher against the
// Google Calendar API v3.
package googlecalendar

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	defaultBaseURL = "https://www.googleapis.com/calendar/v3"
	maxItems       = 250
)

// Fetcher lists meetings on the user's primary calendar.
type Fetcher struct {
	api *apiclient.Client
}

// New creates a Fetcher. Options are applied to the underlying API client.
func New(opts ...apiclient.Option) *Fetcher {
	return &Fetcher{api: apiclient.New(model.ProviderGoogleCalendar, defaultBaseURL, opts...)}
}

// Provider returns model.ProviderGoogleCalendar.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderGoogleCalendar }

type eventsResponse struct {
	Items         []event `json:"items"`
	NextPageToken string  `json:"nextPageToken"`
}

type event struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
	HTMLLink  string    `json:"htmlLink"`
	Start     eventTime `json:"start"`
	End       eventTime `json:"end"`
	Organizer struct {
		Email string `json:"email"`
		Self  bool   `json:"self"`
	} `json:"organizer"`
	Attendees []struct {
		Email          string `json:"email"`
		Self           bool   `json:"self"`
		ResponseStatus string `json:"responseStatus"`
	} `json:"attendees"`
}

type eventTime struct {
	DateTime time.Time `json:"dateTime"`
	Date     string    `json:"date"`
}

func (t eventTime) resolve() (time.Time, bool) {
	if !t.DateTime.IsZero() {
		return t.DateTime, true
	}
	if d, err := time.Parse(time.DateOnly, t.Date); err == nil {
		return d, true
	}
	return time.Time{}, false
}

// FetchActivity expands recurring events and skips cancelled events and
// events the user declined.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	q := url.Values{
		"timeMin":      {window.From.UTC().Format(time.RFC3339)},
		"timeMax":      {window.To.UTC().Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {strconv.Itoa(maxItems)},
	}

	col := apiclient.NewCollector(window, maxItems)
	for {
		var resp eventsResponse
		if err := f.api.GetJSON(ctx, token.AccessToken, "/calendars/primary/events", q, &resp); err != nil {
			return nil, err
		}
		for _, ev := range resp.Items {
			if a, ok := mapEvent(ev); ok {
				col.Add(a)
			}
		}
		if resp.NextPageToken == "" || col.Full() {
			break
		}
		q.Set("pageToken", resp.NextPageToken)
	}
	return col.Activities(), nil
}

func mapEvent(ev event) (model.Activity, bool) {
	if ev.Status == "cancelled" {
		return model.Activity{}, false
	}
	self := ev.Organizer.Email
	response := "organizer"
	if !ev.Organizer.Self {
		response = ""
	}
	for _, a := range ev.Attendees {
		if a.Self {
			if a.ResponseStatus == "declined" {
				return model.Activity{}, false
			}
			self, response = a.Email, a.ResponseStatus
		}
	}

	start, ok := ev.Start.resolve()
	if !ok {
		return model.Activity{}, false
	}
	meta := map[string]string{
		"attendees": strconv.Itoa(len(ev.Attendees)),
		"response":  response,
	}
	if end, ok := ev.End.resolve(); ok {
		meta["duration_minutes"] = strconv.Itoa(int(end.Sub(start).Minutes()))
	}
	if ev.Start.Date != "" {
		meta["all_day"] = "true"
	}

	title := ev.Summary
	if title == "" {
		title = "(no title)"
	}
	return model.Activity{
		Provider:    model.ProviderGoogleCalendar,
		ExternalID:  ev.ID,
		Kind:        model.KindMeeting,
		Title:       title,
		Timestamp:   start,
		Actor:       self,
		URL:         ev.HTMLLink,
		RawMetadata: meta,
	}, true
}
