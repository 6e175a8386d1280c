package driven

import (
	"context"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// ActivityFetcher is the capability every provider adapter implements.
// Adapters hold no per-user state: the caller passes a valid token for the
// user on every call, and the adapter resolves the user's identity from it.
//
// Errors must be *model.FetchError values whose Kind is one of
// model.ErrUnauthorized, model.ErrRateLimited, model.ErrEndpointGone or
// model.ErrUnreachable.
type ActivityFetcher interface {
	Provider() model.ProviderType
	FetchActivity(ctx context.Context, token model.Token, window model.TimeRange) ([]model.Activity, error)
}
