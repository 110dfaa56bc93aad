package main

import (
	"context"
	"fmt"

	"github.com/chorushq/chorus/internal/analyser"
	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/captcha"
	"github.com/chorushq/chorus/internal/catalog"
	"github.com/chorushq/chorus/internal/config"
	"github.com/chorushq/chorus/internal/delegation"
	"github.com/chorushq/chorus/internal/export"
	"github.com/chorushq/chorus/internal/guardrails"
	"github.com/chorushq/chorus/internal/mcp"
	"github.com/chorushq/chorus/internal/monitoring"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/orchestrator"
	"github.com/chorushq/chorus/internal/providers"
	"github.com/chorushq/chorus/internal/rag"
	"github.com/chorushq/chorus/internal/router"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/tools"
	"github.com/chorushq/chorus/internal/tools/hitl"
	"github.com/chorushq/chorus/internal/tools/webapi"
	"github.com/chorushq/chorus/internal/tools/workflow"
	"github.com/chorushq/chorus/internal/usage"
)

// promptCapabilities are the categories the analyser may assign to a
// prompt; they match the catalog's strength tags.
var promptCapabilities = []string{
	"coding", "reasoning", "creative", "math", "summarisation",
	"general_knowledge", "vision", "analysis",
}

// app holds the wired chat core.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	sink     monitoring.Sink
	store    storage.Store
	kv       cache.Cache
	catalog  *catalog.Catalog
	registry *providers.Registry
	rag      *rag.Service
	tools    *tools.Registry
	mcp      *mcp.Registry
	orch     *orchestrator.Orchestrator
	exporter *export.Exporter
	captcha  *captcha.Verifier

	closers []func() error
}

// buildApp wires every subsystem from the configuration. Construction is
// fail-fast: a bad backend config aborts startup rather than degrading.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	a.metrics = observability.NewMetrics()

	if cfg.Analytics.Enabled {
		sink, err := monitoring.NewClickHouseSink(monitoring.ClickHouseConfig{
			Addrs:    cfg.Analytics.Addrs,
			Database: cfg.Analytics.Database,
			Username: cfg.Analytics.Username,
			Password: cfg.Analytics.Password,
			Table:    cfg.Analytics.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("analytics sink: %w", err)
		}
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}

	switch cfg.Cache.Backend {
	case "redis":
		kv, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			DefaultTTL: cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.kv = kv
	default:
		a.kv = cache.NewMemory()
	}

	switch cfg.Database.Backend {
	case "postgres":
		store, err := storage.NewPostgresStore(cfg.Database.DSN, nil)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.store = store
	default:
		a.store = storage.NewMemoryStore()
	}
	a.closers = append(a.closers, a.store.Close)

	a.catalog = catalog.New(cfg.Providers, a.kv, a.store, a.logger)
	a.registry = providers.NewRegistry(a.catalog, a.logger, a.metrics, a.sink)
	if err := a.registerProviders(ctx); err != nil {
		return nil, err
	}

	var vectors rag.VectorStore
	switch cfg.Vector.Backend {
	case "qdrant":
		qdrant, err := rag.NewQdrantStore(rag.QdrantConfig{
			Host:   cfg.Vector.Host,
			Port:   cfg.Vector.Port,
			APIKey: cfg.Vector.APIKey,
			UseTLS: cfg.Vector.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		vectors = qdrant
	default:
		vectors = rag.NewMemoryVectorStore()
	}

	aux := providers.NewModelCompleter(a.registry, cfg.Providers.AuxiliaryModel)
	var embedder rag.Embedder
	if cfg.Providers.OpenAIAPIKey != "" {
		embedder = rag.NewOpenAIEmbedder(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIBaseURL, "")
		a.registry.RegisterEmbedding("openai", embedder)
	}
	a.rag = rag.NewService(embedder, vectors, aux, a.logger)

	usg := usage.NewManager(a.kv, a.logger)

	a.mcp = mcp.NewRegistry()
	a.tools = tools.NewRegistry(a.mcp, a.logger, a.metrics, a.sink)
	workflow.Register(a.tools)
	hitl.Register(a.tools)
	webapi.Register(a.tools, nil)

	a.orch = orchestrator.New(orchestrator.Options{
		Registry: a.registry,
		Selector: router.New(a.catalog, cfg.Providers.DefaultModel, a.logger, a.metrics),
		Analyser: analyser.New(aux, promptCapabilities, toolNames(a.tools), a.logger),
		RAG:      a.rag,
		Tools:    a.tools,
		Guard:    guardrails.DefaultPolicy(a.logger, a.metrics, a.sink),
		Store:    a.store,
		Usage:    usg,
		Logger:   a.logger,

		AppURL:       cfg.AppURL,
		DefaultModel: cfg.Providers.DefaultModel,
	})

	delegation.NewService(a.store, a.orch.DelegationChat(), a.logger, a.metrics).Register(a.tools)

	a.exporter = export.New(a.store, a.logger)
	a.captcha = captcha.New(cfg.Captcha, nil, a.logger)
	return a, nil
}

// registerProviders wires every chat backend with credentials. Mistral is
// registered first so it serves as the capability default, matching the
// configured default model.
func (a *app) registerProviders(ctx context.Context) error {
	cfg := a.cfg.Providers

	if cfg.MistralAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			Name:         "mistral",
			APIKey:       cfg.MistralAPIKey,
			BaseURL:      "https://api.mistral.ai/v1",
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return err
		}
		a.registry.RegisterChat(p)
	}
	if cfg.GroqAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			Name:    "groq",
			APIKey:  cfg.GroqAPIKey,
			BaseURL: "https://api.groq.com/openai/v1",
		})
		if err != nil {
			return err
		}
		a.registry.RegisterChat(p)
	}
	if cfg.AnthropicAPIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			return err
		}
		a.registry.RegisterChat(p)
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return err
		}
		a.registry.RegisterChat(p)

		media, err := providers.NewOpenAIMediaProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return err
		}
		a.registry.RegisterImage(media)
		a.registry.RegisterSpeech(media)
		a.registry.RegisterOCR(media)
	}
	if cfg.BedrockRegion != "" {
		p, err := providers.NewBedrockProvider(ctx, providers.BedrockConfig{Region: cfg.BedrockRegion})
		if err != nil {
			return err
		}
		a.registry.RegisterChat(p)
	}

	a.registry.RegisterResearch(providers.NewRetrievalResearchProvider(a.cfg.AppURL))
	return nil
}

func toolNames(reg *tools.Registry) []string {
	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	return names
}

// close releases backends in reverse construction order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
