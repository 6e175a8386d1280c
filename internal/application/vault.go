package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

const (
	// refreshSkew refreshes tokens slightly before they expire so a token
	// handed to an adapter does not lapse mid-request.
	refreshSkew = 60 * time.Second

	authStateTTL  = 10 * time.Minute
	maxAuthStates = 4096
)

// pendingAuth binds an authorization state token to the user who started it.
type pendingAuth struct {
	userID   string
	provider model.ProviderType
}

// Vault owns integration credentials: it is the only component that sees
// token plaintext. Tokens are encrypted at rest, refreshed on demand, and
// written with compare-and-swap so concurrent refreshes cannot store
// divergent token pairs.
type Vault struct {
	store      driven.CredentialStore
	cipher     driven.TokenCipher
	exchangers map[model.ProviderType]driven.OAuthExchanger
	audit      driven.AuditLog

	states  *expirable.LRU[string, pendingAuth]
	refresh singleflight.Group
	now     func() time.Time
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithVaultClock overrides the time source. Intended for tests.
func WithVaultClock(now func() time.Time) VaultOption {
	return func(v *Vault) { v.now = now }
}

// NewVault creates a Vault. Providers without an exchanger cannot be
// connected or refreshed.
func NewVault(
	store driven.CredentialStore,
	cipher driven.TokenCipher,
	exchangers []driven.OAuthExchanger,
	audit driven.AuditLog,
	opts ...VaultOption,
) *Vault {
	v := &Vault{
		store:      store,
		cipher:     cipher,
		exchangers: make(map[model.ProviderType]driven.OAuthExchanger, len(exchangers)),
		audit:      audit,
		states:     expirable.NewLRU[string, pendingAuth](maxAuthStates, nil, authStateTTL),
		now:        time.Now,
	}
	for _, ex := range exchangers {
		v.exchangers[ex.Provider()] = ex
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Configured reports whether OAuth is set up for provider.
func (v *Vault) Configured(provider model.ProviderType) bool {
	_, ok := v.exchangers[provider]
	return ok
}

// AuthorizeURL starts an authorization for userID and returns the provider
// URL to redirect the user to. The embedded state is single-use and expires
// after ten minutes.
func (v *Vault) AuthorizeURL(userID string, provider model.ProviderType) (string, error) {
	ex, err := v.exchanger(provider)
	if err != nil {
		return "", err
	}
	state := uuid.NewString()
	v.states.Add(state, pendingAuth{userID: userID, provider: provider})
	return ex.AuthCodeURL(state), nil
}

// CompleteAuthorization resolves the state issued by AuthorizeURL and
// connects the user who started the flow.
func (v *Vault) CompleteAuthorization(ctx context.Context, provider model.ProviderType, state, code string) (string, *model.ConnectionStatus, error) {
	pending, ok := v.states.Get(state)
	if !ok || pending.provider != provider {
		return "", nil, model.ErrUnknownState
	}
	v.states.Remove(state)

	status, err := v.Connect(ctx, pending.userID, provider, code)
	if err != nil {
		return pending.userID, nil, err
	}
	return pending.userID, status, nil
}

// Connect exchanges authCode for tokens and stores them, overwriting any
// previous credential for (userID, provider).
func (v *Vault) Connect(ctx context.Context, userID string, provider model.ProviderType, authCode string) (*model.ConnectionStatus, error) {
	ex, err := v.exchanger(provider)
	if err != nil {
		return nil, err
	}

	grant, err := ex.Exchange(ctx, authCode)
	if err != nil {
		v.record(ctx, model.AuditEvent{UserID: userID, Provider: provider, Action: model.AuditConnect,
			Outcome: "failed", Detail: model.FailureReason(err)})
		return nil, fmt.Errorf("connect %s: %w", provider, err)
	}

	now := v.now()
	cred := model.IntegrationCredential{
		UserID:      userID,
		Provider:    provider,
		ExpiresAt:   grant.ExpiresAt,
		Scope:       grant.Scope,
		IsConnected: true,
		ConnectedAt: now,
	}
	if err := v.seal(&cred, grant.AccessToken, grant.RefreshToken); err != nil {
		return nil, err
	}

	stored, err := v.store.Upsert(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("store %s credential: %w", provider, err)
	}

	slog.Info("integration connected", "user_id", userID, "provider", provider)
	v.record(ctx, model.AuditEvent{UserID: userID, Provider: provider, Action: model.AuditConnect, Outcome: "ok"})
	status := statusOf(*stored)
	return &status, nil
}

// GetValidToken returns a usable access token, refreshing it first when it
// has expired. A rejected refresh disconnects the credential and returns
// model.ErrRefreshFailed; an unreachable provider leaves it connected.
func (v *Vault) GetValidToken(ctx context.Context, userID string, provider model.ProviderType) (model.Token, error) {
	cred, err := v.load(ctx, userID, provider)
	if err != nil {
		return model.Token{}, err
	}

	if v.expired(cred) {
		return v.refreshShared(ctx, userID, provider, false)
	}

	access, stale, err := v.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return model.Token{}, fmt.Errorf("%w: %s credential cannot be decrypted: %v", model.ErrNotConnected, provider, err)
	}
	if stale {
		v.reseal(ctx, cred)
	}
	return model.Token{AccessToken: access, ExpiresAt: cred.ExpiresAt, Scope: cred.Scope}, nil
}

// ForceRefresh refreshes the token regardless of its expiry. Used when a
// provider rejects a token the vault still considers valid.
func (v *Vault) ForceRefresh(ctx context.Context, userID string, provider model.ProviderType) (model.Token, error) {
	if _, err := v.load(ctx, userID, provider); err != nil {
		return model.Token{}, err
	}
	return v.refreshShared(ctx, userID, provider, true)
}

// Disconnect deletes the stored tokens for (userID, provider).
func (v *Vault) Disconnect(ctx context.Context, userID string, provider model.ProviderType) error {
	if err := v.store.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("disconnect %s: %w", provider, err)
	}
	slog.Info("integration disconnected", "user_id", userID, "provider", provider)
	v.record(ctx, model.AuditEvent{UserID: userID, Provider: provider, Action: model.AuditDisconnect, Outcome: "ok"})
	return nil
}

// Status returns the token-free connection state of every provider for a user.
func (v *Vault) Status(ctx context.Context, userID string) ([]model.ConnectionStatus, error) {
	creds, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	byProvider := make(map[model.ProviderType]model.IntegrationCredential, len(creds))
	for _, c := range creds {
		byProvider[c.Provider] = c
	}

	out := make([]model.ConnectionStatus, 0, len(model.AllProviders()))
	for _, p := range model.AllProviders() {
		if c, ok := byProvider[p]; ok {
			out = append(out, statusOf(c))
			continue
		}
		out = append(out, model.ConnectionStatus{Provider: p})
	}
	return out, nil
}

// Rekey re-encrypts every credential not sealed with the active key and
// returns how many were rewritten. Credentials modified concurrently are
// skipped; they were rewritten with the active key by their writer.
func (v *Vault) Rekey(ctx context.Context) (int, error) {
	creds, err := v.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list credentials: %w", err)
	}

	var rewritten int
	for _, c := range creds {
		access, staleA, err := v.cipher.Decrypt(c.AccessToken)
		if err != nil {
			slog.Warn("rekey: credential cannot be decrypted", "user_id", c.UserID, "provider", c.Provider, "error", err)
			continue
		}
		refresh, staleR, err := v.cipher.Decrypt(c.RefreshToken)
		if err != nil {
			slog.Warn("rekey: credential cannot be decrypted", "user_id", c.UserID, "provider", c.Provider, "error", err)
			continue
		}
		if !staleA && !staleR {
			continue
		}

		next := c
		if err := v.seal(&next, access, refresh); err != nil {
			return rewritten, err
		}
		if _, err := v.store.CompareAndSwap(ctx, next, c.Version); err != nil {
			if errors.Is(err, model.ErrCredentialConflict) || errors.Is(err, model.ErrNotConnected) {
				continue
			}
			return rewritten, fmt.Errorf("rekey %s/%s: %w", c.UserID, c.Provider, err)
		}
		rewritten++
		v.record(ctx, model.AuditEvent{UserID: c.UserID, Provider: c.Provider, Action: model.AuditRekey, Outcome: "ok",
			Detail: fmt.Sprintf("key v%d", v.cipher.ActiveVersion())})
	}

	slog.Info("credential rekey complete", "rewritten", rewritten, "total", len(creds), "key_version", v.cipher.ActiveVersion())
	return rewritten, nil
}

// refreshShared coalesces concurrent refreshes of one credential into a
// single provider call.
func (v *Vault) refreshShared(ctx context.Context, userID string, provider model.ProviderType, force bool) (model.Token, error) {
	key := userID + "\x00" + string(provider)
	res, err, _ := v.refresh.Do(key, func() (any, error) {
		return v.doRefresh(ctx, userID, provider, force)
	})
	if err != nil {
		return model.Token{}, err
	}
	return res.(model.Token), nil
}

func (v *Vault) doRefresh(ctx context.Context, userID string, provider model.ProviderType, force bool) (model.Token, error) {
	// Re-read under the singleflight key: a refresh that committed while this
	// caller waited makes this one unnecessary.
	cred, err := v.load(ctx, userID, provider)
	if err != nil {
		return model.Token{}, err
	}
	if !force && !v.expired(cred) {
		return v.decryptToken(cred)
	}

	ex, err := v.exchanger(provider)
	if err != nil {
		return model.Token{}, err
	}
	refreshToken, _, err := v.cipher.Decrypt(cred.RefreshToken)
	if err != nil || refreshToken == "" {
		return model.Token{}, v.failRefresh(ctx, cred, fmt.Errorf("no usable refresh token"))
	}

	grant, err := ex.Refresh(ctx, refreshToken)
	if errors.Is(err, model.ErrProviderUnreachable) {
		// The grant may still be good; keep the connection for the next attempt.
		return model.Token{}, fmt.Errorf("refresh %s token: %w", provider, err)
	}
	if err != nil {
		return model.Token{}, v.failRefresh(ctx, cred, err)
	}

	next := *cred
	next.ExpiresAt = grant.ExpiresAt
	if grant.Scope != "" {
		next.Scope = grant.Scope
	}
	if err := v.seal(&next, grant.AccessToken, grant.RefreshToken); err != nil {
		return model.Token{}, err
	}

	stored, err := v.store.CompareAndSwap(ctx, next, cred.Version)
	if errors.Is(err, model.ErrCredentialConflict) {
		// Another writer committed first; its token pair wins and ours is discarded.
		slog.Info("token refresh lost race, using committed token", "user_id", userID, "provider", provider)
		winner, err := v.load(ctx, userID, provider)
		if err != nil {
			return model.Token{}, err
		}
		return v.decryptToken(winner)
	}
	if err != nil {
		return model.Token{}, fmt.Errorf("store refreshed %s token: %w", provider, err)
	}

	slog.Info("token refreshed", "user_id", userID, "provider", provider, "expires_at", stored.ExpiresAt)
	v.record(ctx, model.AuditEvent{UserID: userID, Provider: provider, Action: model.AuditRefresh, Outcome: "ok"})
	return model.Token{AccessToken: grant.AccessToken, ExpiresAt: stored.ExpiresAt, Scope: stored.Scope}, nil
}

// failRefresh marks the credential disconnected and returns ErrRefreshFailed.
func (v *Vault) failRefresh(ctx context.Context, cred *model.IntegrationCredential, cause error) error {
	slog.Warn("token refresh failed", "user_id", cred.UserID, "provider", cred.Provider, "error", cause)

	next := *cred
	next.IsConnected = false
	if _, err := v.store.CompareAndSwap(ctx, next, cred.Version); err != nil && !errors.Is(err, model.ErrCredentialConflict) {
		slog.Error("failed to mark credential disconnected", "user_id", cred.UserID, "provider", cred.Provider, "error", err)
	}

	v.record(ctx, model.AuditEvent{UserID: cred.UserID, Provider: cred.Provider, Action: model.AuditRefreshFailed,
		Outcome: "refresh_failed", Detail: model.FailureReason(cause)})
	return fmt.Errorf("%w: %s: %w", model.ErrRefreshFailed, cred.Provider, cause)
}

// reseal re-encrypts a credential read with a retired key. Failures are
// logged; the next read retries.
func (v *Vault) reseal(ctx context.Context, cred *model.IntegrationCredential) {
	access, _, err := v.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return
	}
	refresh, _, err := v.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return
	}
	next := *cred
	if err := v.seal(&next, access, refresh); err != nil {
		slog.Warn("re-encrypt credential failed", "user_id", cred.UserID, "provider", cred.Provider, "error", err)
		return
	}
	if _, err := v.store.CompareAndSwap(ctx, next, cred.Version); err != nil && !errors.Is(err, model.ErrCredentialConflict) {
		slog.Warn("re-encrypt credential failed", "user_id", cred.UserID, "provider", cred.Provider, "error", err)
		return
	}
	slog.Debug("credential re-encrypted", "user_id", cred.UserID, "provider", cred.Provider, "key_version", v.cipher.ActiveVersion())
}

func (v *Vault) seal(cred *model.IntegrationCredential, access, refresh string) error {
	var err error
	if cred.AccessToken, err = v.cipher.Encrypt(access); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if cred.RefreshToken, err = v.cipher.Encrypt(refresh); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	return nil
}

func (v *Vault) decryptToken(cred *model.IntegrationCredential) (model.Token, error) {
	access, _, err := v.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return model.Token{}, fmt.Errorf("%w: %s credential cannot be decrypted: %v", model.ErrNotConnected, cred.Provider, err)
	}
	return model.Token{AccessToken: access, ExpiresAt: cred.ExpiresAt, Scope: cred.Scope}, nil
}

// load returns the connected credential or ErrNotConnected.
func (v *Vault) load(ctx context.Context, userID string, provider model.ProviderType) (*model.IntegrationCredential, error) {
	cred, err := v.store.Get(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("load %s credential: %w", provider, err)
	}
	if cred == nil || !cred.IsConnected {
		return nil, fmt.Errorf("%w: %s", model.ErrNotConnected, provider)
	}
	return cred, nil
}

func (v *Vault) expired(cred *model.IntegrationCredential) bool {
	if cred.ExpiresAt.IsZero() {
		return false
	}
	return !v.now().Add(refreshSkew).Before(cred.ExpiresAt)
}

func (v *Vault) exchanger(provider model.ProviderType) (driven.OAuthExchanger, error) {
	ex, ok := v.exchangers[provider]
	if !ok {
		return nil, fmt.Errorf("oauth is not configured for provider %q", provider)
	}
	return ex, nil
}

func (v *Vault) record(ctx context.Context, event model.AuditEvent) {
	if v.audit == nil {
		return
	}
	event.At = v.now()
	if err := v.audit.Record(ctx, event); err != nil {
		slog.Error("audit record failed", "action", event.Action, "user_id", event.UserID, "error", err)
	}
}

func statusOf(c model.IntegrationCredential) model.ConnectionStatus {
	return model.ConnectionStatus{
		Provider:    c.Provider,
		IsConnected: c.IsConnected,
		ConnectedAt: c.ConnectedAt,
		ExpiresAt:   c.ExpiresAt,
		Scope:       c.Scope,
	}
}
