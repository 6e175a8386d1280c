package driven

import (
	"context"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// SessionStore holds processing sessions under the fixed model.SessionTTL.
// All methods on an unknown session return model.ErrSessionNotFound; methods
// on an expired session return model.ErrSessionExpired, which also matches
// model.ErrSessionNotFound. No method ever returns data of an expired session.
type SessionStore interface {
	// Create starts a new empty session owned by userID.
	Create(ctx context.Context, userID string) (*model.Session, error)

	// AppendActivities adds activities, skipping keys already present.
	// Returns model.ErrActivitiesSealed once the activity set is sealed.
	AppendActivities(ctx context.Context, sessionID string, activities []model.Activity) error

	// SealActivities records per-provider fetch status and makes the activity
	// set read-only, moving the session to model.StageFetched.
	SealActivities(ctx context.Context, sessionID string, status map[model.ProviderType]model.ProviderStatus) error

	// SetStageArtifact stores the artifact for its stage, replacing a previous
	// run of the same stage and discarding artifacts of later stages.
	// basedOn is the predecessor's revision (model.Session.Revision) the
	// artifact was computed from. Returns model.ErrStageOrder if the
	// predecessor is not complete or was replaced since.
	SetStageArtifact(ctx context.Context, sessionID string, artifact model.StageArtifact, basedOn int) error

	// Get returns a deep copy of the session.
	Get(ctx context.Context, sessionID string) (*model.Session, error)

	// Delete erases the session immediately.
	Delete(ctx context.Context, sessionID string) error
}
