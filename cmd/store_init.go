package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/batch"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/classify"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/importer"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/ingest"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/anthropic"
	"github.com/agentpilot-us/revenue-agents-sub002/pkg/firecrawl"
)

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("jobs"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "knowledge.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv bundles the collaborators every command needs.
type pipelineEnv struct {
	Store      store.Store
	Crawler    firecrawl.Client
	Classifier *classify.Classifier
	Ingestor   *ingest.Ingestor
}

// Close releases the store.
func (e *pipelineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for the given mode, opens the store, runs
// migrations, and wires the crawl and model clients. Missing credentials fail
// here, before any job record exists.
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	var crawlerOpts []firecrawl.Option
	if cfg.Firecrawl.BaseURL != "" {
		crawlerOpts = append(crawlerOpts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	}
	crawler := firecrawl.NewClient(cfg.Firecrawl.Key, crawlerOpts...)

	classifier := classify.New(anthropic.NewClient(cfg.Anthropic.Key), classify.Config{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
	})

	return &pipelineEnv{
		Store:      st,
		Crawler:    crawler,
		Classifier: classifier,
		Ingestor:   ingest.New(st),
	}, nil
}

// newImporter builds an orchestrator from the environment and config.
func newImporter(env *pipelineEnv, autoApprove bool) *importer.Orchestrator {
	return importer.New(env.Store, env.Crawler, env.Classifier, env.Ingestor, importer.Config{
		Owner:        cfg.Owner,
		PageLimit:    cfg.Import.PageLimit,
		ClassifyCap:  cfg.Import.ClassifyCap,
		PollInterval: cfg.Import.PollInterval(),
		PollTimeout:  cfg.Import.PollTimeout(),
		AutoApprove:  autoApprove,
	})
}

// newBatchExecutor builds a batch executor from the environment and config.
func newBatchExecutor(env *pipelineEnv) *batch.Executor {
	return batch.NewExecutor(env.Crawler, env.Classifier, env.Ingestor, batch.Config{
		ChunkSize:     cfg.Batch.ChunkSize,
		MaxURLs:       cfg.Batch.MaxURLs,
		PerURLTimeout: cfg.Batch.PerURLTimeout(),
	})
}
