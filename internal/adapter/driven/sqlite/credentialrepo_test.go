package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func sampleCredential(userID string, provider model.ProviderType) model.IntegrationCredential {
	return model.IntegrationCredential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  "v1:access-ciphertext",
		RefreshToken: "v1:refresh-ciphertext",
		ExpiresAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Scope:        "repo read:user",
		IsConnected:  true,
		ConnectedAt:  time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestCredentialRepo_UpsertAndGet(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, sampleCredential("u1", model.ProviderGitHub))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	got, err := repo.Get(ctx, "u1", model.ProviderGitHub)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v1:access-ciphertext", got.AccessToken)
	assert.Equal(t, "v1:refresh-ciphertext", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "repo read:user", got.Scope)
	assert.True(t, got.IsConnected)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCredentialRepo_GetMissing(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))

	got, err := repo.Get(context.Background(), "u1", model.ProviderJira)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialRepo_UpsertOverwritesAndBumpsVersion(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.Upsert(ctx, sampleCredential("u1", model.ProviderGitHub))
	require.NoError(t, err)

	next := sampleCredential("u1", model.ProviderGitHub)
	next.AccessToken = "v1:new"
	stored, err := repo.Upsert(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "v1:new", stored.AccessToken)

	all, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1, "one record per (user, provider)")
}

func TestCredentialRepo_CompareAndSwap(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, sampleCredential("u1", model.ProviderGitHub))
	require.NoError(t, err)

	first := *stored
	first.AccessToken = "v1:first"
	swapped, err := repo.CompareAndSwap(ctx, first, stored.Version)
	require.NoError(t, err)
	assert.Equal(t, stored.Version+1, swapped.Version)

	second := *stored
	second.AccessToken = "v1:second"
	_, err = repo.CompareAndSwap(ctx, second, stored.Version)
	assert.ErrorIs(t, err, model.ErrCredentialConflict)

	got, err := repo.Get(ctx, "u1", model.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "v1:first", got.AccessToken, "losing writer must not overwrite")
}

func TestCredentialRepo_CompareAndSwapMissing(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))

	_, err := repo.CompareAndSwap(context.Background(), sampleCredential("u1", model.ProviderSlack), 1)
	assert.ErrorIs(t, err, model.ErrNotConnected)
}

func TestCredentialRepo_ListByUserAndAll(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	for _, c := range []model.IntegrationCredential{
		sampleCredential("u1", model.ProviderSlack),
		sampleCredential("u1", model.ProviderGitHub),
		sampleCredential("u2", model.ProviderJira),
	} {
		_, err := repo.Upsert(ctx, c)
		require.NoError(t, err)
	}

	mine, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, model.ProviderGitHub, mine[0].Provider)
	assert.Equal(t, model.ProviderSlack, mine[1].Provider)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCredentialRepo_Delete(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.Upsert(ctx, sampleCredential("u1", model.ProviderGitHub))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "u1", model.ProviderGitHub))

	got, err := repo.Get(ctx, "u1", model.ProviderGitHub)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, repo.Delete(ctx, "u1", model.ProviderGitHub), "deleting nonexistent credential should not error")
}

func TestCredentialRepo_NonExpiringToken(t *testing.T) {
	repo := NewCredentialRepo(setupTestDB(t))
	ctx := context.Background()

	cred := sampleCredential("u1", model.ProviderSlack)
	cred.ExpiresAt = time.Time{}
	cred.RefreshToken = ""
	_, err := repo.Upsert(ctx, cred)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "u1", model.ProviderSlack)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.Empty(t, got.RefreshToken)
}
