package main

import (
	"context"
	"fmt"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/attachments"
	"github.com/roelfdiedericks/chatgate/internal/blob"
	"github.com/roelfdiedericks/chatgate/internal/chat"
	"github.com/roelfdiedericks/chatgate/internal/config"
	httpapi "github.com/roelfdiedericks/chatgate/internal/http"
	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/media"
	"github.com/roelfdiedericks/chatgate/internal/orchestrator"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/user"
)

// app holds the long-lived components of a running gateway
type app struct {
	cfg       *config.Config
	debug     bool
	store     store.Store
	artifacts *media.ArtifactStore
	users     *user.Registry
	selector  *llm.Selector
	orch      *orchestrator.Orchestrator
	server    *httpapi.Server
	watcher   *config.Watcher
}

func newApp(ctx context.Context, cfg *config.Config, debug bool) (*app, error) {
	a := &app{cfg: cfg, debug: debug}

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		L_warn("app: no provider has an apiKey, every request will fail")
	}
	registry := llm.NewRegistry(llm.Catalogue(), providers, cfg.Pipeline.Priority)

	classifier, _ := registry.Provider(llm.ProviderGemini)
	a.selector = llm.NewSelector(registry, classifier, cfg.Pipeline.ClassifierModel, cfg.Pipeline.SelectorTimeout())

	var namer chat.Namer
	if classifier != nil {
		namer = llm.NewNamer(classifier, cfg.Pipeline.NamingModel, cfg.Pipeline.NamingTimeout())
	}

	a.store, err = openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var issuer attachments.URLIssuer
	var files httpapi.FileSigner
	if cfg.Blob.Bucket != "" {
		presigner, err := blob.NewPresigner(ctx, cfg.Blob)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to set up blob storage: %w", err)
		}
		issuer, files = presigner, presigner
	} else {
		L_warn("app: blob.bucket not set, attachments resolve to placeholders and file routes are disabled")
	}

	a.artifacts, err = media.NewArtifactStore(cfg.Artifacts)
	if err != nil {
		a.Close()
		return nil, err
	}

	normalizer := orchestrator.NewNormalizer(a.store, a.artifacts)
	a.orch = orchestrator.NewOrchestrator(registry, a.selector, normalizer, cfg.Pipeline.AttemptTimeout())

	resolver := attachments.NewResolver(issuer, cfg.Pipeline.ResolveConcurrency)
	service := chat.NewService(a.store, resolver, namer, a.orch, registry)

	a.users = user.NewRegistry(cfg.Users)
	a.server, err = httpapi.NewServer(cfg.HTTP, httpapi.Deps{
		Users:  a.users,
		Store:  a.store,
		Chat:   service,
		Models: registry,
		Files:  files,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Start launches the server, the artifact janitor and the config watcher
func (a *app) Start() error {
	if err := a.artifacts.Start(); err != nil {
		return err
	}
	if path := a.cfg.Path(); path != "" {
		w, err := config.NewWatcher(path, 0, a.reload)
		if err != nil {
			L_warn("app: config watcher disabled", "error", err)
		} else {
			a.watcher = w
			w.Start()
		}
	}
	return a.server.Start()
}

// reload applies the settings that can change without a restart
func (a *app) reload(cfg *config.Config) {
	if !a.debug {
		SetLevel(ParseLevel(cfg.Logging.Level))
	}
	a.orch.SetAttemptTimeout(cfg.Pipeline.AttemptTimeout())
	a.selector.SetTimeout(cfg.Pipeline.SelectorTimeout())
	a.users.Replace(cfg.Users)
	L_info("app: config applied", "attemptTimeout", cfg.Pipeline.AttemptTimeout(), "users", len(cfg.Users))
}

// Close stops everything that was started, in reverse order
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.server != nil {
		a.server.Stop()
	}
	if a.artifacts != nil {
		a.artifacts.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			L_warn("app: store close failed", "error", err)
		}
	}
}

// buildProviders creates a client for every provider with an apiKey
func buildProviders(cfg config.ProvidersConfig) (map[string]llm.Provider, error) {
	entries := []struct {
		kind string
		pc   config.ProviderConfig
	}{
		{llm.ProviderGemini, cfg.Gemini},
		{llm.ProviderDeepSeek, cfg.DeepSeek},
		{llm.ProviderOpenAI, cfg.OpenAI},
		{llm.ProviderAnthropic, cfg.Anthropic},
		{llm.ProviderXAI, cfg.XAI},
	}

	out := make(map[string]llm.Provider, len(entries))
	for _, e := range entries {
		if !e.pc.Enabled() {
			L_debug("app: provider not configured", "provider", e.kind)
			continue
		}
		p, err := llm.NewProvider(e.kind, llm.ClientConfig{
			APIKey:    e.pc.APIKey,
			BaseURL:   e.pc.BaseURL,
			MaxTokens: e.pc.MaxTokens,
			Timeout:   time.Duration(e.pc.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", e.kind, err)
		}
		out[e.kind] = p
		L_debug("app: provider configured", "provider", e.kind)
	}
	return out, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		L_warn("app: using in-memory storage, conversations are lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}
