// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// minSecretLen matches the keyring's lower bound on secret length.
const minSecretLen = 16

// OAuthClient is one provider's registered client credentials.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	PublicURL  string

	// SecretKeys maps key version to secret. The highest version encrypts.
	SecretKeys map[int]string

	// EnabledProviders is nil when every provider is enabled.
	EnabledProviders map[model.ProviderType]bool
	OAuthClients     map[model.ProviderType]OAuthClient
	FigmaTeamIDs     []string

	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchConcurrency int
	ProviderCacheTTL time.Duration

	LLMBackend      string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ModelPolicyFile string

	JournalURL   string
	JournalToken string
}

// HasJournal reports whether drafts are handed to a journal service.
func (c *Config) HasJournal() bool {
	return c.JournalURL != ""
}

// RedirectURL is the OAuth callback URL registered with provider.
func (c *Config) RedirectURL(provider model.ProviderType) string {
	return strings.TrimRight(c.PublicURL, "/") + "/api/v1/integrations/" + string(provider) + "/callback"
}

// envPrefix returns the WORKLOG_<PROVIDER> prefix for per-provider variables.
func envPrefix(p model.ProviderType) string {
	return "WORKLOG_" + strings.ToUpper(string(p))
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file (WORKLOG_ENV_FILE, default ".env") is loaded first when present;
// variables already set in the environment take precedence.
//
// Required: WORKLOG_SECRET_KEYS ("version:secret" pairs, comma separated).
// Optional variables with defaults: WORKLOG_LISTEN_ADDR (127.0.0.1:8080),
// WORKLOG_DB_PATH (worklog.db), WORKLOG_PUBLIC_URL (http://<listen addr>),
// WORKLOG_FETCH_TIMEOUT (2m), WORKLOG_FETCH_MAX_ATTEMPTS (4),
// WORKLOG_FETCH_CONCURRENCY (7), WORKLOG_PROVIDER_CACHE_TTL (10m),
// WORKLOG_LLM_BACKEND (anthropic).
func Load() (*Config, error) {
	envFile := ".env"
	if v, ok := os.LookupEnv("WORKLOG_ENV_FILE"); ok {
		envFile = v
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		ListenAddr:       envOr("WORKLOG_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:           envOr("WORKLOG_DB_PATH", "worklog.db"),
		LLMBackend:       envOr("WORKLOG_LLM_BACKEND", "anthropic"),
		AnthropicAPIKey:  os.Getenv("WORKLOG_ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     os.Getenv("WORKLOG_OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("WORKLOG_OPENAI_BASE_URL"),
		ModelPolicyFile:  os.Getenv("WORKLOG_MODEL_POLICY_FILE"),
		JournalURL:       os.Getenv("WORKLOG_JOURNAL_URL"),
		JournalToken:     os.Getenv("WORKLOG_JOURNAL_TOKEN"),
		FigmaTeamIDs:     splitList(os.Getenv("WORKLOG_FIGMA_TEAM_IDS")),
		OAuthClients:     map[model.ProviderType]OAuthClient{},
		FetchTimeout:     2 * time.Minute,
		FetchMaxAttempts: 4,
		FetchConcurrency: len(model.AllProviders()),
		ProviderCacheTTL: 10 * time.Minute,
	}
	cfg.PublicURL = envOr("WORKLOG_PUBLIC_URL", "http://"+cfg.ListenAddr)

	var err error
	if cfg.SecretKeys, err = parseSecretKeys(os.Getenv("WORKLOG_SECRET_KEYS")); err != nil {
		return nil, err
	}
	if cfg.EnabledProviders, err = parseProviders(os.Getenv("WORKLOG_ENABLED_PROVIDERS")); err != nil {
		return nil, err
	}
	if err := durationVar("WORKLOG_FETCH_TIMEOUT", &cfg.FetchTimeout); err != nil {
		return nil, err
	}
	if err := durationVar("WORKLOG_PROVIDER_CACHE_TTL", &cfg.ProviderCacheTTL); err != nil {
		return nil, err
	}
	if err := intVar("WORKLOG_FETCH_MAX_ATTEMPTS", &cfg.FetchMaxAttempts); err != nil {
		return nil, err
	}
	if err := intVar("WORKLOG_FETCH_CONCURRENCY", &cfg.FetchConcurrency); err != nil {
		return nil, err
	}

	for _, p := range model.AllProviders() {
		id := os.Getenv(envPrefix(p) + "_CLIENT_ID")
		secret := os.Getenv(envPrefix(p) + "_CLIENT_SECRET")
		switch {
		case id != "" && secret != "":
			cfg.OAuthClients[p] = OAuthClient{ClientID: id, ClientSecret: secret}
		case id != "" || secret != "":
			return nil, fmt.Errorf("%s_CLIENT_ID and %s_CLIENT_SECRET must be set together", envPrefix(p), envPrefix(p))
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("WORKLOG_FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.ProviderCacheTTL < 0 {
		return fmt.Errorf("WORKLOG_PROVIDER_CACHE_TTL must not be negative, got %s", c.ProviderCacheTTL)
	}
	if c.FetchTimeout+c.ProviderCacheTTL > model.SessionTTL {
		return fmt.Errorf("WORKLOG_FETCH_TIMEOUT (%s) plus WORKLOG_PROVIDER_CACHE_TTL (%s) exceeds the %s session lifetime",
			c.FetchTimeout, c.ProviderCacheTTL, model.SessionTTL)
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("WORKLOG_FETCH_MAX_ATTEMPTS must be at least 1, got %d", c.FetchMaxAttempts)
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("WORKLOG_FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency)
	}
	switch c.LLMBackend {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("WORKLOG_LLM_BACKEND must be anthropic or openai, got %q", c.LLMBackend)
	}
	return nil
}

// parseSecretKeys parses "1:secret,2:secret" into a version map.
func parseSecretKeys(raw string) (map[int]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("WORKLOG_SECRET_KEYS is required")
	}
	keys := map[int]string{}
	for _, pair := range splitList(raw) {
		ver, secret, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("WORKLOG_SECRET_KEYS entry %q is not version:secret", redact(pair))
		}
		v, err := strconv.Atoi(ver)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("WORKLOG_SECRET_KEYS version %q must be a positive integer", ver)
		}
		if len(secret) < minSecretLen {
			return nil, fmt.Errorf("WORKLOG_SECRET_KEYS version %d secret must be at least %d bytes", v, minSecretLen)
		}
		if _, dup := keys[v]; dup {
			return nil, fmt.Errorf("WORKLOG_SECRET_KEYS version %d appears twice", v)
		}
		keys[v] = secret
	}
	return keys, nil
}

func parseProviders(raw string) (map[model.ProviderType]bool, error) {
	names := splitList(raw)
	if len(names) == 0 {
		return nil, nil
	}
	enabled := make(map[model.ProviderType]bool, len(names))
	for _, name := range names {
		p, err := model.ParseProviderType(name)
		if err != nil {
			return nil, fmt.Errorf("WORKLOG_ENABLED_PROVIDERS: %w", err)
		}
		enabled[p] = true
	}
	return enabled, nil
}

func durationVar(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func intVar(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// redact hides secret material in error messages.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****"
}
