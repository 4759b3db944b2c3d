package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SANGAM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "SANGAM_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SANGAM_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SANGAM_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "SANGAM_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "generation.backend", typ: kString, env: "SANGAM_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.model", typ: kString, env: "SANGAM_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "SANGAM_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "SANGAM_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "generation.requests_per_second", typ: kFloat, env: "SANGAM_GENERATION_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Generation.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.RequestsPerSecond },
	},
	{
		key: "generation.openrouter_api_key", typ: kString, env: "SANGAM_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generation.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.OpenRouterAPIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SANGAM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "SANGAM_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.shard_limit", typ: kInt, env: "SANGAM_STORAGE_SHARD_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Storage.ShardLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.ShardLimit },
	},
	{
		key: "redis.addr", typ: kString, env: "SANGAM_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.db", typ: kInt, env: "SANGAM_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Redis.DB = v.(int) },
		extract: func(cfg Config) any { return cfg.Redis.DB },
	},
	{
		key: "redis.channel", typ: kString, env: "SANGAM_REDIS_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Redis.Channel = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Channel },
	},
	{
		key: "cache.ttl", typ: kString, env: "SANGAM_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "SANGAM_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "memory.window_pairs", typ: kInt, env: "SANGAM_MEMORY_WINDOW_PAIRS",
		apply:   func(cfg *Config, v any) { cfg.Memory.WindowPairs = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.WindowPairs },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "SANGAM_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "SANGAM_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "log.level", typ: kString, env: "SANGAM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
