package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

const credentialColumns = `user_id, provider, access_token, refresh_token, expires_at, scope, is_connected, connected_at, updated_at, version`

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Token columns hold ciphertext produced by the vault; this repo never sees plaintext.
type CredentialRepo struct {
	db  *DB
	now func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db, now: time.Now}
}

// Get returns the credential for (userID, provider), or (nil, nil) if none exists.
func (r *CredentialRepo) Get(ctx context.Context, userID string, provider model.ProviderType) (*model.IntegrationCredential, error) {
	return r.get(ctx, r.db.Reader, userID, provider)
}

func (r *CredentialRepo) get(ctx context.Context, q *sql.DB, userID string, provider model.ProviderType) (*model.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials WHERE user_id = ? AND provider = ?`

	cred, err := scanCredential(q.QueryRowContext(ctx, query, userID, string(provider)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s/%s: %w", userID, provider, err)
	}
	return cred, nil
}

// Upsert creates or overwrites the credential unconditionally, bumping its version.
func (r *CredentialRepo) Upsert(ctx context.Context, cred model.IntegrationCredential) (*model.IntegrationCredential, error) {
	const query = `
		INSERT INTO integration_credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			scope         = excluded.scope,
			is_connected  = excluded.is_connected,
			connected_at  = excluded.connected_at,
			updated_at    = excluded.updated_at,
			version       = integration_credentials.version + 1`

	_, err := r.db.Writer.ExecContext(ctx, query,
		cred.UserID,
		string(cred.Provider),
		cred.AccessToken,
		cred.RefreshToken,
		formatTime(cred.ExpiresAt),
		cred.Scope,
		boolToInt(cred.IsConnected),
		formatTime(cred.ConnectedAt),
		formatTime(r.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert credential %s/%s: %w", cred.UserID, cred.Provider, err)
	}

	return r.get(ctx, r.db.Writer, cred.UserID, cred.Provider)
}

// CompareAndSwap overwrites the credential only if its stored version still
// equals expectedVersion.
func (r *CredentialRepo) CompareAndSwap(ctx context.Context, cred model.IntegrationCredential, expectedVersion int64) (*model.IntegrationCredential, error) {
	const query = `
		UPDATE integration_credentials SET
			access_token  = ?,
			refresh_token = ?,
			expires_at    = ?,
			scope         = ?,
			is_connected  = ?,
			connected_at  = ?,
			updated_at    = ?,
			version       = version + 1
		WHERE user_id = ? AND provider = ? AND version = ?`

	res, err := r.db.Writer.ExecContext(ctx, query,
		cred.AccessToken,
		cred.RefreshToken,
		formatTime(cred.ExpiresAt),
		cred.Scope,
		boolToInt(cred.IsConnected),
		formatTime(cred.ConnectedAt),
		formatTime(r.now()),
		cred.UserID,
		string(cred.Provider),
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("swap credential %s/%s: %w", cred.UserID, cred.Provider, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("swap credential %s/%s: rows affected: %w", cred.UserID, cred.Provider, err)
	}

	if n == 0 {
		current, err := r.get(ctx, r.db.Writer, cred.UserID, cred.Provider)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, model.ErrNotConnected
		}
		return nil, model.ErrCredentialConflict
	}

	return r.get(ctx, r.db.Writer, cred.UserID, cred.Provider)
}

// ListByUser returns every credential of a user, ordered by provider.
func (r *CredentialRepo) ListByUser(ctx context.Context, userID string) ([]model.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials WHERE user_id = ? ORDER BY provider`
	return r.list(ctx, query, userID)
}

// ListAll returns every stored credential ordered by user and provider.
func (r *CredentialRepo) ListAll(ctx context.Context) ([]model.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials ORDER BY user_id, provider`
	return r.list(ctx, query)
}

func (r *CredentialRepo) list(ctx context.Context, query string, args ...any) ([]model.IntegrationCredential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []model.IntegrationCredential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Delete removes the credential. Deleting a missing credential is not an error.
func (r *CredentialRepo) Delete(ctx context.Context, userID string, provider model.ProviderType) error {
	const query = `DELETE FROM integration_credentials WHERE user_id = ? AND provider = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, userID, string(provider)); err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", userID, provider, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*model.IntegrationCredential, error) {
	var (
		cred                              model.IntegrationCredential
		provider                          string
		connected                         int
		expiresAt, connectedAt, updatedAt string
	)

	err := row.Scan(
		&cred.UserID,
		&provider,
		&cred.AccessToken,
		&cred.RefreshToken,
		&expiresAt,
		&cred.Scope,
		&connected,
		&connectedAt,
		&updatedAt,
		&cred.Version,
	)
	if err != nil {
		return nil, err
	}

	cred.Provider = model.ProviderType(provider)
	cred.IsConnected = connected != 0

	if cred.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if cred.ConnectedAt, err = parseTime(connectedAt); err != nil {
		return nil, fmt.Errorf("parse connected_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
