package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store/file"
	"github.com/smallnest/stepgraph/store/memory"
	"github.com/smallnest/stepgraph/store/redis"
	"github.com/smallnest/stepgraph/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		name  string
		cfg   StoreConfig
		check func(t *testing.T, s any)
	}{
		{"memory", StoreConfig{Kind: StoreMemory}, func(t *testing.T, s any) { assert.IsType(t, &memory.MemoryCheckpointStore{}, s) }},
		{"file", StoreConfig{Kind: StoreFile, Path: filepath.Join(dir, "cps")}, func(t *testing.T, s any) { assert.IsType(t, &file.FileCheckpointStore{}, s) }},
		{"sqlite", StoreConfig{Kind: StoreSqlite, Path: filepath.Join(dir, "cps.db")}, func(t *testing.T, s any) { assert.IsType(t, &sqlite.SqliteCheckpointStore{}, s) }},
		{"redis", StoreConfig{Kind: StoreRedis, Redis: RedisConfig{Addr: mr.Addr()}}, func(t *testing.T, s any) { assert.IsType(t, &redis.RedisCheckpointStore{}, s) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := openStore(ctx, tt.cfg)
			require.NoError(t, err)
			defer closeFn()
			tt.check(t, s)

			latest, err := s.GetLatest(ctx, "t1")
			require.NoError(t, err)
			assert.Nil(t, latest)
		})
	}

	_, _, err := openStore(ctx, StoreConfig{Kind: "etcd"})
	assert.Error(t, err)

	_, _, err = openStore(ctx, StoreConfig{Kind: StorePostgres, DSN: "::not a dsn::"})
	assert.Error(t, err)
}

func TestBuildGraph(t *testing.T) {
	for _, name := range []string{graphApproval, graphChat, graphJokes, graphMemory, graphResearch} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Graph = name
			cfg.LLM.Provider = "scripted"
			maxSteps := 0
			cfg.Engine.MaxSteps = &maxSteps
			cfg.LLM.MaxAttempts = 2

			g, err := buildGraph(cfg, memory.NewMemoryCheckpointStore(), memory.NewMemoryStore(), log.NoOpLogger{})
			require.NoError(t, err)
			assert.NotEmpty(t, g.Nodes())
		})
	}

	cfg := DefaultConfig()
	cfg.Engine.InterruptBefore = []string{"missing"}
	_, err := buildGraph(cfg, memory.NewMemoryCheckpointStore(), memory.NewMemoryStore(), log.NoOpLogger{})
	assert.ErrorIs(t, err, graph.ErrUnknownNode)
}

func TestOpenItems(t *testing.T) {
	mr := miniredis.RunT(t)

	items, closeFn := openItems(StoreConfig{Kind: StoreRedis, Redis: RedisConfig{Addr: mr.Addr(), Prefix: "cli:"}})
	defer closeFn()
	assert.IsType(t, &redis.RedisStore{}, items)
	require.NoError(t, items.Put(context.Background(), []string{"memory", "u1"}, "k", map[string]any{"v": "1"}))
	assert.True(t, mr.Exists("cli:items:memory.u1"))

	local, closeLocal := openItems(StoreConfig{Kind: StoreFile, Path: t.TempDir()})
	assert.NoError(t, closeLocal())
	assert.IsType(t, &memory.MemoryStore{}, local)
}

func TestNewModel_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := newModel(LLMConfig{Provider: "openai"})
	assert.Error(t, err)

	m, err := newModel(LLMConfig{Provider: "openai", APIKey: "k", Model: "m", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
