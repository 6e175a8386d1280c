package driven

import (
	"context"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// CredentialStore defines the driven port for durable integration
// credential persistence. Token fields are opaque ciphertext at this
// boundary; encryption is the vault's job.
type CredentialStore interface {
	// Get returns the credential for (userID, provider), or (nil, nil) if none exists.
	Get(ctx context.Context, userID string, provider model.ProviderType) (*model.IntegrationCredential, error)

	// Upsert creates or overwrites the credential for (cred.UserID, cred.Provider)
	// unconditionally and returns the stored record with its new Version.
	Upsert(ctx context.Context, cred model.IntegrationCredential) (*model.IntegrationCredential, error)

	// CompareAndSwap overwrites the credential only if the stored Version
	// equals expectedVersion. Returns model.ErrCredentialConflict when another
	// writer committed first, and model.ErrNotConnected when the record is gone.
	CompareAndSwap(ctx context.Context, cred model.IntegrationCredential, expectedVersion int64) (*model.IntegrationCredential, error)

	// ListByUser returns every credential of a user, ordered by provider.
	ListByUser(ctx context.Context, userID string) ([]model.IntegrationCredential, error)

	// ListAll returns every stored credential. Used by key rotation.
	ListAll(ctx context.Context) ([]model.IntegrationCredential, error)

	// Delete removes the credential. Deleting a missing credential is not an error.
	Delete(ctx context.Context, userID string, provider model.ProviderType) error
}
