package main

import (
	"context"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/openai"
	"github.com/smallnest/stepgraph/llms/scripted"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/prebuilt"
	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/file"
	"github.com/smallnest/stepgraph/store/memory"
	"github.com/smallnest/stepgraph/store/postgres"
	"github.com/smallnest/stepgraph/store/redis"
	"github.com/smallnest/stepgraph/store/sqlite"
	"github.com/tmc/langchaingo/llms"
)

// Graphs the CLI can run.
const (
	graphApproval = "approval"
	graphChat     = "chat"
	graphJokes    = "jokes"
	graphMemory   = "memory"
	graphResearch = "research"
)

// openStore builds the configured checkpoint store. The returned function
// releases it.
func openStore(ctx context.Context, cfg StoreConfig) (store.CheckpointStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case StoreMemory:
		return memory.NewMemoryCheckpointStore(), noop, nil
	case StoreFile:
		s, err := file.NewFileCheckpointStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case StoreSqlite:
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: cfg.Path, TableName: cfg.Table})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case StorePostgres:
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{ConnString: cfg.DSN, TableName: cfg.Table})
		if err != nil {
			return nil, nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	case StoreRedis:
		s := redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}

// openItems builds the long-term item store of the memory graph. Only the
// redis store kind keeps items between commands; every other kind keeps them
// in process.
func openItems(cfg StoreConfig) (store.Store, func() error) {
	if cfg.Kind == StoreRedis {
		s := redis.NewRedisStore(redis.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		return s, s.Close
	}
	return memory.NewMemoryStore(), func() error { return nil }
}

// newModel builds the chat model of the model-backed graphs.
func newModel(cfg LLMConfig) (llms.Model, error) {
	if cfg.Provider == "scripted" {
		return scripted.New(cfg.Replies...), nil
	}
	opts := []openai.Option{}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.APIKey))
	}
	return openai.New(opts...)
}

// buildGraph compiles the configured graph over the checkpoint store s and
// the item store items.
func buildGraph(cfg *Config, s store.CheckpointStore, items store.Store, logger log.Logger, listeners ...graph.Listener) (*graph.CompiledGraph, error) {
	policy, err := graph.ParseConflictPolicy(cfg.Engine.ConflictPolicy)
	if err != nil {
		return nil, err
	}
	opts := []graph.CompileOption{
		graph.WithCheckpointer(s),
		graph.WithLogger(logger),
		graph.WithConflictPolicy(policy),
		graph.WithListeners(listeners...),
	}
	if cfg.Engine.MaxSteps != nil {
		opts = append(opts, graph.WithMaxSteps(*cfg.Engine.MaxSteps))
	}
	if cfg.Engine.Parallelism > 0 {
		opts = append(opts, graph.WithParallelism(cfg.Engine.Parallelism))
	}
	if len(cfg.Engine.InterruptBefore) > 0 {
		opts = append(opts, graph.WithInterruptBefore(cfg.Engine.InterruptBefore...))
	}
	if len(cfg.Engine.InterruptAfter) > 0 {
		opts = append(opts, graph.WithInterruptAfter(cfg.Engine.InterruptAfter...))
	}

	switch cfg.Graph {
	case graphApproval:
		return prebuilt.NewApprovalGraph(opts...)
	case graphChat:
		model, err := newModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		return prebuilt.NewSummarizingChat(model, prebuilt.ChatOptions{Retry: cfg.LLM.retry(), CompileOptions: opts})
	case graphJokes:
		model, err := newModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		return prebuilt.NewJokeMapReduce(model, prebuilt.JokeOptions{Retry: cfg.LLM.retry(), CompileOptions: opts})
	case graphMemory:
		model, err := newModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		return prebuilt.NewMemoryChat(model, items, prebuilt.MemoryChatOptions{Retry: cfg.LLM.retry(), CompileOptions: opts})
	case graphResearch:
		model, err := newModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		return prebuilt.NewResearchAssistant(model, prebuilt.ResearchOptions{
			Checkpointer:   s,
			Retry:          cfg.LLM.retry(),
			CompileOptions: opts,
		})
	}
	return nil, fmt.Errorf("unknown graph %q", cfg.Graph)
}
