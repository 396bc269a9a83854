package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/catalog"
	"github.com/vindex/vindex/internal/config"
	"github.com/vindex/vindex/internal/discovery"
	"github.com/vindex/vindex/internal/extract"
	"github.com/vindex/vindex/internal/resilience"
	"github.com/vindex/vindex/internal/store"
	anthropicpkg "github.com/vindex/vindex/pkg/anthropic"
	openaipkg "github.com/vindex/vindex/pkg/openai"
	"github.com/vindex/vindex/pkg/serper"
)

// appEnv holds the store and the discovery service used by every command.
type appEnv struct {
	Store   store.Store
	Service *discovery.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and builds
// the discovery service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	svc, err := buildService(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &appEnv{Store: st, Service: svc}, nil
}

// buildService wires the search client, extractor and resilience guard
// around st.
func buildService(c *config.Config, st store.Store) (*discovery.Service, error) {
	searchOpts := []serper.Option{
		serper.WithBaseURL(c.Serper.BaseURL),
		serper.WithMaxResults(c.Serper.MaxResults),
		serper.WithTimeout(c.Serper.Timeout()),
	}
	if c.Serper.RateLimitPerSec > 0 {
		searchOpts = append(searchOpts, serper.WithRateLimit(c.Serper.RateLimitPerSec))
	}
	if c.Serper.Key == "" {
		zap.L().Warn("VINDEX_SERPER_KEY not set, discovery of unknown wines will fail")
	}
	search := serper.NewClient(c.Serper.Key, searchOpts...)

	cat, err := catalog.Load(c.Discovery.CatalogPath)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}

	ex := extract.New(c.Extraction, newCompleter(c), cat)
	zap.L().Info("extractor configured",
		zap.String("extractor", ex.Name()),
		zap.String("backend", c.Extraction.Backend),
	)

	guard := resilience.NewGuard("serper", "search",
		resilience.FromRetryConfig(c.Resilience.MaxAttempts, c.Resilience.InitialBackoffMs, c.Resilience.MaxBackoffMs),
		resilience.FromBreakerConfig(c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs),
	)

	return discovery.New(c, st, search, ex, guard), nil
}

// newCompleter returns the LLM backend for structured extraction, guarded
// by its own retry policy and circuit breaker, or nil when no backend key is
// configured.
func newCompleter(c *config.Config) extract.Completer {
	if c.LLMKey() == "" {
		zap.L().Debug("no LLM key configured, using heuristic extraction",
			zap.String("backend", c.Extraction.Backend))
		return nil
	}

	var backend extract.Completer
	switch c.Extraction.Backend {
	case "openai":
		backend = &extract.OpenAICompleter{
			Client: openaipkg.NewClient(c.OpenAI.Key, openaipkg.WithBaseURL(c.OpenAI.BaseURL)),
			Model:  c.OpenAI.Model,
		}
	default:
		// Retries belong to the guard, not the SDK.
		opts := []anthropicpkg.Option{anthropicpkg.WithMaxRetries(0)}
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		backend = &extract.AnthropicCompleter{
			Client:    anthropicpkg.NewClient(c.Anthropic.Key, opts...),
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
		}
	}

	return &extract.GuardedCompleter{
		Completer: backend,
		Guard: resilience.NewGuard(c.Extraction.Backend, "complete",
			resilience.FromRetryConfig(c.Resilience.MaxAttempts, c.Resilience.InitialBackoffMs, c.Resilience.MaxBackoffMs),
			resilience.FromBreakerConfig(c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs),
		),
	}
}
