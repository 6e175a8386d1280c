// Package figma implements the design tool ActivityFetcher against the
// Figma REST API.
package figma

import (
	"context"
	"time"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider/apiclient"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityFetcher = (*Fetcher)(nil)

const (
	defaultBaseURL = "https://api.figma.com"
	maxItems       = 100
)

// Fetcher reports file versions saved by, and comments written by, the
// token's user. Figma has no per-user activity feed, so files are discovered
// through the configured teams' projects.
type Fetcher struct {
	api     *apiclient.Client
	teamIDs []string
}

// New creates a Fetcher scanning the given teams.
func New(teamIDs []string, opts ...apiclient.Option) *Fetcher {
	return &Fetcher{
		api:     apiclient.New(model.ProviderFigma, defaultBaseURL, opts...),
		teamIDs: teamIDs,
	}
}

// Provider returns model.ProviderFigma.
func (f *Fetcher) Provider() model.ProviderType { return model.ProviderFigma }

type me struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

type projectsResponse struct {
	Projects []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"projects"`
}

type filesResponse struct {
	Files []file `json:"files"`
}

type file struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
}

type versionsResponse struct {
	Versions []struct {
		ID          string    `json:"id"`
		CreatedAt   time.Time `json:"created_at"`
		Label       string    `json:"label"`
		Description string    `json:"description"`
		User        me        `json:"user"`
	} `json:"versions"`
}

type commentsResponse struct {
	Comments []struct {
		ID        string    `json:"id"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
		User      me        `json:"user"`
	} `json:"comments"`
}

// FetchActivity walks teams -> projects -> files modified inside the window
// and collects the user's versions and comments on those files.
func (f *Fetcher) FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error) {
	var user me
	if err := f.api.GetJSON(ctx, token.AccessToken, "/v1/me", nil, &user); err != nil {
		return nil, err
	}

	col := apiclient.NewCollector(window, maxItems)
	for _, team := range f.teamIDs {
		var projects projectsResponse
		if err := f.api.GetJSON(ctx, token.AccessToken, "/v1/teams/"+team+"/projects", nil, &projects); err != nil {
			return nil, err
		}
		for _, p := range projects.Projects {
			var files filesResponse
			if err := f.api.GetJSON(ctx, token.AccessToken, "/v1/projects/"+p.ID+"/files", nil, &files); err != nil {
				return nil, err
			}
			for _, fl := range files.Files {
				if fl.LastModified.Before(window.From) {
					continue
				}
				if err := f.collectFile(ctx, token, user, p.Name, fl, col); err != nil {
					return nil, err
				}
				if col.Full() {
					return col.Activities(), nil
				}
			}
		}
	}
	return col.Activities(), nil
}

func (f *Fetcher) collectFile(ctx context.Context, token model.Token, user me, project string, fl file, col *apiclient.Collector) error {
	fileURL := "https://www.figma.com/file/" + fl.Key

	var versions versionsResponse
	if err := f.api.GetJSON(ctx, token.AccessToken, "/v1/files/"+fl.Key+"/versions", nil, &versions); err != nil {
		return err
	}
	for _, v := range versions.Versions {
		if v.User.ID != user.ID {
			continue
		}
		title := v.Label
		if title == "" {
			title = "Edited " + fl.Name
		}
		col.Add(model.Activity{
			Provider:   model.ProviderFigma,
			ExternalID: "version:" + fl.Key + ":" + v.ID,
			Kind:       model.KindDesign,
			Title:      title,
			Timestamp:  v.CreatedAt,
			Actor:      user.Handle,
			URL:        fileURL,
			RawMetadata: map[string]string{
				"file":        fl.Name,
				"file_key":    fl.Key,
				"project":     project,
				"description": v.Description,
			},
		})
	}

	var comments commentsResponse
	if err := f.api.GetJSON(ctx, token.AccessToken, "/v1/files/"+fl.Key+"/comments", nil, &comments); err != nil {
		return err
	}
	for _, c := range comments.Comments {
		if c.User.ID != user.ID {
			continue
		}
		col.Add(model.Activity{
			Provider:   model.ProviderFigma,
			ExternalID: "comment:" + fl.Key + ":" + c.ID,
			Kind:       model.KindComment,
			Title:      "Commented on " + fl.Name,
			Timestamp:  c.CreatedAt,
			Actor:      user.Handle,
			URL:        fileURL,
			RawMetadata: map[string]string{
				"file":     fl.Name,
				"file_key": fl.Key,
				"project":  project,
				"message":  apiclient.Truncate(c.Message, 500),
			},
		})
	}
	return nil
}
