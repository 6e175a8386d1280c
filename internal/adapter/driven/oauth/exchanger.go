// Package oauth implements the OAuthExchanger port for every supported
// provider on top of golang.org/x/oauth2.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthExchanger = (*Exchanger)(nil)

var (
	atlassianEndpoint = oauth2.Endpoint{
		AuthURL:  "https://auth.atlassian.com/authorize",
		TokenURL: "https://auth.atlassian.com/oauth/token",
	}
	figmaEndpoint = oauth2.Endpoint{
		AuthURL:  "https://www.figma.com/oauth",
		TokenURL: "https://api.figma.com/v1/oauth/token",
	}
	slackEndpoint = oauth2.Endpoint{
		AuthURL:   "https://slack.com/oauth/v2/authorize",
		TokenURL:  "https://slack.com/api/oauth.v2.access",
		AuthStyle: oauth2.AuthStyleInParams,
	}
)

// Credentials are the client credentials registered with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// profile is the static OAuth shape of one provider.
type profile struct {
	endpoint   oauth2.Endpoint
	scopes     []string
	authParams []oauth2.AuthCodeOption

	// userScopes, when set, is requested as Slack's user_scope and the user
	// token is read from the authed_user object of the response.
	userScopes []string
}

func profileFor(p model.ProviderType) (profile, error) {
	switch p {
	case model.ProviderGitHub:
		return profile{endpoint: github.Endpoint, scopes: []string{"read:user", "repo"}}, nil
	case model.ProviderJira:
		return profile{
			endpoint:   atlassianEndpoint,
			scopes:     []string{"read:jira-work", "read:jira-user", "offline_access"},
			authParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("audience", "api.atlassian.com"), oauth2.SetAuthURLParam("prompt", "consent")},
		}, nil
	case model.ProviderConfluence:
		return profile{
			endpoint:   atlassianEndpoint,
			scopes:     []string{"search:confluence", "read:confluence-content.summary", "offline_access"},
			authParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("audience", "api.atlassian.com"), oauth2.SetAuthURLParam("prompt", "consent")},
		}, nil
	case model.ProviderFigma:
		return profile{endpoint: figmaEndpoint, scopes: []string{"files:read", "file_comments:read"}}, nil
	case model.ProviderGoogleCalendar:
		return profile{
			endpoint:   google.Endpoint,
			scopes:     []string{"https://www.googleapis.com/auth/calendar.events.readonly"},
			authParams: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
		}, nil
	case model.ProviderMicrosoftTeams:
		return profile{
			endpoint: microsoft.AzureADEndpoint("common"),
			scopes:   []string{"User.Read", "Chat.Read", "offline_access"},
		}, nil
	case model.ProviderSlack:
		return profile{
			endpoint:   slackEndpoint,
			scopes:     []string{"users:read"},
			userScopes: []string{"search:read", "users:read"},
		}, nil
	}
	return profile{}, fmt.Errorf("no OAuth profile for provider %q", p)
}

// Exchanger performs the authorization-code flow for one provider.
type Exchanger struct {
	provider   model.ProviderType
	cfg        *oauth2.Config
	authParams []oauth2.AuthCodeOption
	userToken  bool
	httpClient *http.Client
	now        func() time.Time
}

// Option configures an Exchanger.
type Option func(*Exchanger)

// WithEndpoint overrides the provider endpoint. Intended for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(e *Exchanger) { e.cfg.Endpoint = ep }
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchanger) { e.httpClient = c }
}

// New creates an Exchanger for provider. redirectURL must match the URL
// registered with the provider.
func New(provider model.ProviderType, creds Credentials, redirectURL string, opts ...Option) (*Exchanger, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("oauth client credentials for %s are not set", provider)
	}
	prof, err := profileFor(provider)
	if err != nil {
		return nil, err
	}

	params := append([]oauth2.AuthCodeOption{}, prof.authParams...)
	if len(prof.userScopes) > 0 {
		params = append(params, oauth2.SetAuthURLParam("user_scope", strings.Join(prof.userScopes, ",")))
	}

	e := &Exchanger{
		provider: provider,
		cfg: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     prof.endpoint,
			RedirectURL:  redirectURL,
			Scopes:       prof.scopes,
		},
		authParams: params,
		userToken:  len(prof.userScopes) > 0,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Provider returns the provider this exchanger serves.
func (e *Exchanger) Provider() model.ProviderType { return e.provider }

// AuthCodeURL returns the provider authorization URL carrying state.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.cfg.AuthCodeURL(state, e.authParams...)
}

// Exchange trades an authorization code for tokens.
func (e *Exchanger) Exchange(ctx context.Context, code string) (model.TokenGrant, error) {
	tok, err := e.cfg.Exchange(e.clientContext(ctx), code)
	if err != nil {
		return model.TokenGrant{}, e.mapError("exchange", err)
	}
	return e.grantFrom(tok)
}

// Refresh performs the refresh-token grant.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	if refreshToken == "" {
		return model.TokenGrant{}, fmt.Errorf("%s refresh: %w: no refresh token", e.provider, model.ErrInvalidGrant)
	}

	// An already-expired token forces the token source to hit the refresh endpoint.
	src := e.cfg.TokenSource(e.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       e.now().Add(-time.Hour),
	})
	tok, err := src.Token()
	if err != nil {
		return model.TokenGrant{}, e.mapError("refresh", err)
	}

	grant, err := e.grantFrom(tok)
	if err != nil {
		return model.TokenGrant{}, err
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

func (e *Exchanger) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

func (e *Exchanger) grantFrom(tok *oauth2.Token) (model.TokenGrant, error) {
	grant := model.TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Scope = scope
	}

	// The code exchange nests the user token under authed_user. A rotated
	// refresh returns it at the top level, which oauth2 has already parsed.
	if user, ok := tok.Extra("authed_user").(map[string]any); ok && e.userToken {
		access, _ := user["access_token"].(string)
		if access == "" {
			return model.TokenGrant{}, fmt.Errorf("%s: %w: response has no user token", e.provider, model.ErrInvalidGrant)
		}
		grant.AccessToken = access
		grant.RefreshToken, _ = user["refresh_token"].(string)
		grant.Scope, _ = user["scope"].(string)
		grant.ExpiresAt = time.Time{}
		if secs, ok := user["expires_in"].(float64); ok && secs > 0 {
			grant.ExpiresAt = e.now().Add(time.Duration(secs) * time.Second)
		}
	}

	if grant.AccessToken == "" {
		return model.TokenGrant{}, fmt.Errorf("%s: %w: empty access token", e.provider, model.ErrInvalidGrant)
	}
	return grant, nil
}

// mapError translates oauth2 errors into the credential taxonomy.
func (e *Exchanger) mapError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		switch {
		case rerr.ErrorCode == "invalid_grant", rerr.ErrorCode == "invalid_request",
			rerr.ErrorCode == "unauthorized_client", rerr.ErrorCode == "invalid_client":
			return fmt.Errorf("%s %s: %w: %s", e.provider, op, model.ErrInvalidGrant, rerr.ErrorCode)
		case status >= 500 || status == http.StatusTooManyRequests:
			return fmt.Errorf("%s %s: %w: status %d", e.provider, op, model.ErrProviderUnreachable, status)
		case status >= 400:
			return fmt.Errorf("%s %s: %w: status %d", e.provider, op, model.ErrInvalidGrant, status)
		}
	}
	// Slack reports failures as 200 {"ok":false}, which oauth2 surfaces as a
	// missing access token.
	if strings.Contains(err.Error(), "missing access_token") {
		return fmt.Errorf("%s %s: %w", e.provider, op, model.ErrInvalidGrant)
	}
	return fmt.Errorf("%s %s: %w: %w", e.provider, op, model.ErrProviderUnreachable, err)
}
