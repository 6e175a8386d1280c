package driven

import (
	"context"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// OAuthExchanger performs one provider's OAuth 2.0 authorization-code flow.
type OAuthExchanger interface {
	Provider() model.ProviderType

	// AuthCodeURL returns the provider authorization URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token grant. Returns
	// model.ErrInvalidGrant when the provider rejects the code and
	// model.ErrProviderUnreachable on transport failure.
	Exchange(ctx context.Context, code string) (model.TokenGrant, error)

	// Refresh performs the refresh-token grant. The returned grant keeps the
	// old refresh token when the provider does not rotate it.
	Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error)
}
