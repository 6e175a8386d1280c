// Package provider assembles the closed set of provider adapters.
package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/confluence"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/figma"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/github"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/googlecalendar"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/jira"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/slack"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/teams"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Config carries the settings shared by every adapter.
type Config struct {
	HTTPClient   *http.Client  // Used by the REST adapters; nil selects a default.
	CacheTTL     time.Duration // Lifetime of cached code host responses.
	FigmaTeamIDs []string
	RequestRate  float64 // Requests per second per provider; zero selects the default.
}

// Registry maps each provider to its adapter. It is built once at startup
// and read-only afterwards.
type Registry map[model.ProviderType]driven.ActivityFetcher

// NewRegistry builds an adapter for every supported provider.
func NewRegistry(cfg Config) (Registry, error) {
	var opts []apiclient.Option
	if cfg.HTTPClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.RequestRate > 0 {
		opts = append(opts, apiclient.WithRateLimit(cfg.RequestRate, max(1, int(cfg.RequestRate))))
	}

	var ghOpts []github.Option
	if cfg.CacheTTL > 0 {
		ghOpts = append(ghOpts, github.WithCacheTTL(cfg.CacheTTL))
	}
	gh, err := github.New(ghOpts...)
	if err != nil {
		return nil, fmt.Errorf("github adapter: %w", err)
	}

	reg := Registry{}
	for _, f := range []driven.ActivityFetcher{
		gh,
		jira.New(opts...),
		confluence.New(opts...),
		figma.New(cfg.FigmaTeamIDs, opts...),
		googlecalendar.New(opts...),
		teams.New(opts...),
		slack.New(opts...),
	} {
		reg[f.Provider()] = f
	}
	return reg, nil
}
