// Package atlassian holds the cloud-site discovery shared by the Jira and
// Confluence adapters. Atlassian OAuth tokens address sites through
// api.atlassian.com/ex/{product}/{cloudId}.
package atlassian

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// DefaultBaseURL is the Atlassian platform API root.
const DefaultBaseURL = "https://api.atlassian.com"

// Site is one Atlassian cloud site the token can access.
type Site struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// ResolveSite returns the first accessible site granting a scope that
// contains scopeHint (e.g. "jira" or "confluence").
func ResolveSite(ctx context.Context, c *apiclient.Client, token, scopeHint string) (Site, error) {
	var sites []Site
	if err := c.GetJSON(ctx, token, "/oauth/token/accessible-resources", nil, &sites); err != nil {
		return Site{}, err
	}
	for _, s := range sites {
		for _, scope := range s.Scopes {
			if strings.Contains(scope, scopeHint) {
				return s, nil
			}
		}
	}
	return Site{}, model.NewFetchError(c.Provider(), model.ErrUnauthorized,
		fmt.Errorf("token grants no %s site", scopeHint))
}

// queryLayout is the JQL and CQL date literal format.
const queryLayout = "2006-01-02 15:04"

// zoneSlack covers every UTC offset. JQL and CQL read zoneless date
// literals in the user's profile timezone, not UTC.
const zoneSlack = 24 * time.Hour

// QueryWindow returns search bounds that contain window whatever the
// user's profile timezone is. Callers trim results to the exact window.
func QueryWindow(window model.TimeRange) (from, to string) {
	return window.From.Add(-zoneSlack).UTC().Format(queryLayout), window.To.Add(zoneSlack).UTC().Format(queryLayout)
}
