package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"gopkg.in/yaml.v3"
)

// Store kinds accepted in store.kind.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSqlite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the stepgraph.yaml file.
type Config struct {
	Graph  string       `yaml:"graph"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	LLM    LLMConfig    `yaml:"llm"`
}

type StoreConfig struct {
	Kind  string      `yaml:"kind"`
	Path  string      `yaml:"path"`
	DSN   string      `yaml:"dsn"`
	Table string      `yaml:"table"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type EngineConfig struct {
	ConflictPolicy string `yaml:"conflict_policy"`
	// MaxSteps limits the supersteps of one call. Unset keeps the engine
	// default; zero or less removes the limit.
	MaxSteps        *int     `yaml:"max_steps"`
	Parallelism     int      `yaml:"parallelism"`
	InterruptBefore []string `yaml:"interrupt_before"`
	InterruptAfter  []string `yaml:"interrupt_after"`
}

// LLMConfig selects the chat model of the model-backed graphs.
type LLMConfig struct {
	// Provider is "openai" or "scripted".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	// Replies feed the scripted provider.
	Replies []string `yaml:"replies"`
	// MaxAttempts retries failed model calls with backoff when above one.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c LLMConfig) retry() *graph.RetryConfig {
	if c.MaxAttempts <= 1 {
		return nil
	}
	cfg := graph.DefaultRetryConfig()
	cfg.MaxAttempts = c.MaxAttempts
	return cfg
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	return &Config{
		Graph: graphApproval,
		Store: StoreConfig{
			Kind: StoreFile,
			Path: ".stepgraph",
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Addr: ":8080"},
		Engine: EngineConfig{ConflictPolicy: graph.ConflictFail.String()},
		LLM:    LLMConfig{Provider: "openai"},
	}
}

// LoadConfig reads path over the defaults. A missing file is an error only
// when required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the commands rely on.
func (c *Config) Validate() error {
	switch c.Graph {
	case graphApproval, graphChat, graphJokes, graphMemory, graphResearch:
	default:
		return fmt.Errorf("unknown graph %q", c.Graph)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile, StoreSqlite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s store", c.Store.Kind)
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := graph.ParseConflictPolicy(c.Engine.ConflictPolicy); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case "openai", "scripted":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}
