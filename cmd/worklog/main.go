package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/worklog/internal/adapter/driven/journal"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/keyring"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/llm"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/memsession"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/oauth"
	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider"
	sqliteadapter "github.com/ericfisherdev/worklog/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/worklog/internal/adapter/driving/http"
	"github.com/ericfisherdev/worklog/internal/application"
	"github.com/ericfisherdev/worklog/internal/config"
	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"public_url", cfg.PublicURL,
		"llm_backend", cfg.LLMBackend,
		"key_versions", len(cfg.SecretKeys),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Credential vault.
	cipher, err := keyring.New(cfg.SecretKeys)
	if err != nil {
		return fmt.Errorf("token keyring: %w", err)
	}
	auditLog := sqliteadapter.NewAuditRepo(db)

	var exchangers []driven.OAuthExchanger
	for _, p := range model.AllProviders() {
		client, ok := cfg.OAuthClients[p]
		if !ok {
			continue
		}
		ex, err := oauth.New(p, oauth.Credentials{ClientID: client.ClientID, ClientSecret: client.ClientSecret}, cfg.RedirectURL(p))
		if err != nil {
			return fmt.Errorf("oauth %s: %w", p, err)
		}
		exchangers = append(exchangers, ex)
	}
	if len(exchangers) == 0 {
		slog.Warn("no oauth clients configured, integrations cannot be connected")
	}
	vault := application.NewVault(sqliteadapter.NewCredentialRepo(db), cipher, exchangers, auditLog)

	// 6. Provider adapters and fetch orchestrator.
	registry, err := provider.NewRegistry(provider.Config{
		CacheTTL:     cfg.ProviderCacheTTL,
		FigmaTeamIDs: cfg.FigmaTeamIDs,
	})
	if err != nil {
		return err
	}
	orchestrator := application.NewFetchOrchestrator(registry, vault, application.FetchOptions{
		Enabled:     cfg.EnabledProviders,
		MaxAttempts: cfg.FetchMaxAttempts,
		Concurrency: cfg.FetchConcurrency,
		Timeout:     cfg.FetchTimeout,
	})

	// 7. Language models and pipeline.
	models, err := buildModels(cfg)
	if err != nil {
		return err
	}
	var policy *application.ModelPolicy
	if cfg.ModelPolicyFile != "" {
		if policy, err = application.LoadModelPolicy(cfg.ModelPolicyFile); err != nil {
			return err
		}
	}
	selector, err := application.NewModelSelector(cfg.LLMBackend, policy)
	if err != nil {
		return err
	}
	pipeline := application.NewPipeline(models, selector, nil)

	// 8. Sessions.
	sessionStore := memsession.New()
	go sessionStore.Run(ctx)

	var sink driven.JournalSink
	if cfg.HasJournal() {
		sink = journal.New(cfg.JournalURL, cfg.JournalToken)
		slog.Info("journal handoff enabled", "url", cfg.JournalURL)
	}
	sessions := application.NewSessionService(sessionStore, orchestrator, pipeline, sink, auditLog)

	// 9. HTTP server.
	handler := httphandler.NewServeMux(httphandler.NewHandler(vault, sessions, slog.Default()), slog.Default())

	// Stage runs wait on model calls; the write timeout has to cover a
	// full generate stage with its retry.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.FetchTimeout + 3*time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("worklog started",
		"listen_addr", cfg.ListenAddr,
		"oauth_providers", len(exchangers),
		"adapters", len(registry),
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// buildModels creates a backend for every configured API key. The selected
// backend must be among them.
func buildModels(cfg *config.Config) (*llm.Router, error) {
	backends := map[string]driven.LanguageModel{}
	if cfg.AnthropicAPIKey != "" {
		b, err := llm.NewAnthropic(llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			return nil, fmt.Errorf("anthropic backend: %w", err)
		}
		backends["anthropic"] = b
	}
	if cfg.OpenAIAPIKey != "" {
		b, err := llm.NewOpenAI(llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			return nil, fmt.Errorf("openai backend: %w", err)
		}
		backends["openai"] = b
	}
	if _, ok := backends[cfg.LLMBackend]; !ok {
		return nil, fmt.Errorf("WORKLOG_LLM_BACKEND is %s but no API key is set for it", cfg.LLMBackend)
	}
	return llm.NewRouter(backends), nil
}
