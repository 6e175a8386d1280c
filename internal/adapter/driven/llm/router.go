package llm

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LanguageModel = (*Router)(nil)

// Router dispatches a completion to the backend named by the request's
// model handle.
type Router struct {
	backends map[string]driven.LanguageModel
}

// NewRouter creates a Router over the given backends, keyed by backend name.
func NewRouter(backends map[string]driven.LanguageModel) *Router {
	return &Router{backends: backends}
}

// Complete forwards req to its backend.
func (r *Router) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	b, ok := r.backends[req.Model.Backend]
	if !ok {
		return model.Completion{}, fmt.Errorf("%w: backend %q is not configured", model.ErrModelUnavailable, req.Model.Backend)
	}
	return b.Complete(ctx, req)
}
