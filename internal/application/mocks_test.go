package application_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// --- Mock implementations ---

// memCredentialStore is an in-memory CredentialStore with real CAS semantics.
type memCredentialStore struct {
	mu    sync.Mutex
	creds map[string]model.IntegrationCredential

	// beforeCAS runs before every compare-and-swap; tests use it to inject a
	// concurrent writer.
	beforeCAS func()
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{creds: make(map[string]model.IntegrationCredential)}
}

func credKey(userID string, p model.ProviderType) string { return userID + "|" + string(p) }

func (m *memCredentialStore) Get(_ context.Context, userID string, p model.ProviderType) (*model.IntegrationCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[credKey(userID, p)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCredentialStore) Upsert(_ context.Context, c model.IntegrationCredential) (*model.IntegrationCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.creds[credKey(c.UserID, c.Provider)]
	c.Version = prev.Version + 1
	m.creds[credKey(c.UserID, c.Provider)] = c
	return &c, nil
}

func (m *memCredentialStore) CompareAndSwap(_ context.Context, c model.IntegrationCredential, expected int64) (*model.IntegrationCredential, error) {
	if m.beforeCAS != nil {
		hook := m.beforeCAS
		m.beforeCAS = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.creds[credKey(c.UserID, c.Provider)]
	if !ok {
		return nil, model.ErrNotConnected
	}
	if prev.Version != expected {
		return nil, model.ErrCredentialConflict
	}
	c.Version = expected + 1
	m.creds[credKey(c.UserID, c.Provider)] = c
	return &c, nil
}

func (m *memCredentialStore) ListByUser(_ context.Context, userID string) ([]model.IntegrationCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IntegrationCredential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *memCredentialStore) ListAll(_ context.Context) ([]model.IntegrationCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.IntegrationCredential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCredentialStore) Delete(_ context.Context, userID string, p model.ProviderType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, credKey(userID, p))
	return nil
}

// mockExchanger is an OAuthExchanger with pluggable behavior.
type mockExchanger struct {
	provider model.ProviderType
	exchange func(ctx context.Context, code string) (model.TokenGrant, error)
	refresh  func(ctx context.Context, refreshToken string) (model.TokenGrant, error)

	refreshCalls atomic.Int32
}

func (m *mockExchanger) Provider() model.ProviderType { return m.provider }

func (m *mockExchanger) AuthCodeURL(state string) string {
	return "https://auth.example.test/authorize?state=" + state
}

func (m *mockExchanger) Exchange(ctx context.Context, code string) (model.TokenGrant, error) {
	return m.exchange(ctx, code)
}

func (m *mockExchanger) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	m.refreshCalls.Add(1)
	return m.refresh(ctx, refreshToken)
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recordingAudit) Record(_ context.Context, e model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) actions() []model.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditAction, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
