// Process wiring for the agentdock commands.
//
// Information Hiding:
// - Backend selection (database driver, embedder, vector index) hidden
// - Redis cache and tokenizer setup hidden
// - Resource teardown order hidden behind App.Close

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/agentdock/agent"
	"github.com/richinex/agentdock/config"
	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/retrieval"
	"github.com/richinex/agentdock/server"
	"github.com/richinex/agentdock/storage"
)

// Options are the global command-line overrides.
type Options struct {
	Provider string
	// User owns the agents the agent-scoped commands act on.
	User     string
	Verbose  bool
}

// App holds the long-lived resources every command shares.
type App struct {
	Settings   config.Settings
	Store      storage.Store
	Pipeline   *retrieval.Pipeline
	HTTPClient *http.Client
	Logger     *slog.Logger

	closers []io.Closer
}

// Open loads settings, configures logging and opens the store and
// retrieval pipeline. The LLM provider is created on demand by Provider.
func Open(ctx context.Context, opts Options) (*App, error) {
	settings, err := load(opts.Provider)
	if err != nil {
		return nil, err
	}

	level := settings.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: settings.Log.Format}); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	l := logger.L()

	store, err := storage.Open(settings.Database.Driver, settings.Database.URL)
	if err != nil {
		return nil, err
	}
	app := &App{
		Settings:   settings,
		Store:      store,
		HTTPClient: &http.Client{Timeout: settings.Agent.ToolTimeout},
		Logger:     l,
		closers:    []io.Closer{store},
	}

	embedder, err := app.embedder(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	splitter, err := splitter(settings.Retrieval)
	if err != nil {
		app.Close()
		return nil, err
	}

	var index retrieval.Index = retrieval.NewScanIndex(store)
	if settings.Retrieval.VectorIndex == "chromem" {
		index = retrieval.NewChromemIndex(store)
	}

	app.Pipeline = retrieval.NewPipeline(store, embedder,
		retrieval.WithIndex(index),
		retrieval.WithSplitter(splitter),
		retrieval.WithTopK(settings.Retrieval.TopK),
		retrieval.WithLogger(logger.Named("retrieval")),
	)
	l.Debug("app opened",
		"db_driver", settings.Database.Driver,
		"embeddings", settings.Retrieval.EmbedProvider,
		"index", settings.Retrieval.VectorIndex)
	return app, nil
}

func load(provider string) (config.Settings, error) {
	if provider != "" {
		return config.New(provider)
	}
	return config.Load()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) embedder(ctx context.Context) (retrieval.Embedder, error) {
	cfg := a.Settings.Retrieval

	var embedder retrieval.Embedder
	switch cfg.EmbedProvider {
	case "gemini":
		key, err := config.APIKeyFor("gemini")
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		g, err := retrieval.NewGeminiEmbedder(ctx, key, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		embedder = g
	default:
		key, err := config.APIKeyFor("openai")
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		embedder = retrieval.NewOpenAIEmbedder(key, cfg.EmbedBaseURL, cfg.EmbedModel)
	}

	if cfg.RedisURL == "" {
		return embedder, nil
	}
	client, err := retrieval.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)
	return retrieval.NewCachedEmbedder(embedder, client, cfg.EmbedCacheTTL), nil
}

func splitter(cfg config.RetrievalConfig) (*retrieval.Splitter, error) {
	s := retrieval.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if cfg.ChunkLength == "tokens" {
		length, err := retrieval.TokenLength()
		if err != nil {
			return nil, err
		}
		s.Length = length
	}
	return s, nil
}

// Provider builds the configured LLM provider.
func (a *App) Provider() (llm.Provider, error) {
	return llm.FromConfig(a.Settings.LLM)
}

// AgentConfig converts settings into runner configuration.
func (a *App) AgentConfig() agent.Config {
	c := agent.DefaultConfig()
	c.MaxIterations = a.Settings.Agent.MaxIterations
	c.ToolConcurrency = a.Settings.Agent.ToolConcurrency
	return c
}

// Server builds the HTTP server from settings.
func (a *App) Server() (*server.Server, error) {
	provider, err := a.Provider()
	if err != nil {
		return nil, err
	}
	s := a.Settings
	return server.New(server.Config{
		Addr:           s.Server.Addr,
		JWTSecret:      s.Server.JWTSecret,
		RequestTimeout: s.Server.RequestTimeout,
		MaxUploadBytes: s.Retrieval.MaxUploadBytes,
		Agent:          a.AgentConfig(),
		ToolTimeout:    s.Agent.ToolTimeout,
		StreamBuffer:   s.Agent.StreamBuffer,
		TopK:           s.Retrieval.TopK,
	}, a.Store, a.Pipeline, provider,
		server.WithLogger(logger.Named("server")),
		server.WithHTTPClient(a.HTTPClient),
	), nil
}
