package model

import "time"

// IntegrationCredential is the stored OAuth grant for one (user, provider)
// pair. AccessToken and RefreshToken hold ciphertext tagged with the key
// version that produced it; only the vault decrypts them.
type IntegrationCredential struct {
	UserID       string
	Provider     ProviderType
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // Zero when the provider issues non-expiring tokens.
	Scope        string
	IsConnected  bool
	ConnectedAt  time.Time
	UpdatedAt    time.Time
	Version      int64 // Incremented on every write; used for compare-and-swap.
}

// Token is a decrypted, usable access token. It only exists transiently
// between the vault and an adapter call.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Scope       string
}

// ConnectionStatus is the token-free view of a credential.
type ConnectionStatus struct {
	Provider    ProviderType
	IsConnected bool
	ConnectedAt time.Time
	ExpiresAt   time.Time
	Scope       string
}

// TokenGrant is what a provider returns from a code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}
