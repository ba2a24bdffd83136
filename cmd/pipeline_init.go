package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/extract"
	"github.com/meridian-group/scorecard-cli/internal/params"
	"github.com/meridian-group/scorecard-cli/internal/resilience"
	"github.com/meridian-group/scorecard-cli/internal/store"
	"github.com/meridian-group/scorecard-cli/pkg/llm"
)

// pipelineEnv holds the initialized store, cache, model client, and
// orchestrator needed by the extract/score/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Cache        *cache.ResultCache
	Stats        *llm.UsageStats
	Orchestrator *extract.Orchestrator
	Registry     *params.Registry
}

// Close flushes the usage snapshot and releases the store.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		if pe.Stats != nil {
			snap := pe.Stats.Snapshot()
			if snap.Requests > 0 {
				if err := pe.Store.RecordUsage(context.Background(), snap); err != nil {
					zap.L().Warn("record usage snapshot failed", zap.Error(err))
				}
			}
		}
		_ = pe.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline validates config for the given mode, opens the store, builds
// the two-tier cache, and wires the resilient model client into an
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var durable cache.DurableTier
	switch cfg.Cache.Durable {
	case "file":
		durable, err = cache.NewFileTier(cfg.Cache.Dir)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init file cache tier")
		}
	case "store":
		durable = store.NewCacheTier(st)
	case "none", "":
		// memory-only
	default:
		_ = st.Close()
		return nil, eris.Errorf("unknown durable cache tier %q", cfg.Cache.Durable)
	}
	resultCache := cache.New(durable)

	var registry *params.Registry
	if cfg.Params.File != "" {
		registry, err = params.Load(cfg.Params.File)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else {
		registry = params.LoadDefault()
	}
	zap.L().Info("parameter registry loaded",
		zap.Int("parameters", len(registry.All())),
		zap.Strings("subcategories", registry.Subcategories()),
	)

	invoker := llm.NewAnthropicInvoker(cfg.Anthropic.Key,
		llm.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)
	limiter := resilience.NewWindow(cfg.Extraction.MaxRequestsPerMinute)
	stats := llm.NewUsageStats()
	client := llm.NewRetryingClient(invoker, limiter, stats, llm.RetryConfig{
		PrimaryModel:  cfg.Anthropic.Model,
		FallbackModel: cfg.Anthropic.FallbackModel,
		MaxRetries:    cfg.Extraction.MaxRetries,
		RetryDelay:    cfg.Extraction.RetryDelay(),
	}, llm.WithBreakers(resilience.NewModelBreakers(resilience.DefaultBreakerConfig())))

	orch := extract.New(resultCache, client, store.NewRunRecorder(st), extract.Config{
		UseCache: cfg.Extraction.UseCache,
		CacheTTL: cfg.Extraction.CacheTTL(),
	})

	return &pipelineEnv{
		Store:        st,
		Cache:        resultCache,
		Stats:        stats,
		Orchestrator: orch,
		Registry:     registry,
	}, nil
}
