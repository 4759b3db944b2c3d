package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Retrieval  RetrievalConfig
	Memory     MemoryConfig
	Ingest     IngestConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port        int
	MaxUploadMB int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

// GenerationConfig selects the backend that writes answers.
type GenerationConfig struct {
	Backend           string // "openrouter" or "ollama"
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerSecond float64
	OpenRouterAPIKey  string
}

type StorageConfig struct {
	DataDir    string
	Backend    string // "sqlite" or "redis"
	ShardLimit int
}

type RedisConfig struct {
	Addr    string
	DB      int
	Channel string
}

type CacheConfig struct {
	TTL string
}

type RetrievalConfig struct {
	TopK int
}

type MemoryConfig struct {
	WindowPairs int
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
}

const (
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"

	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			MaxUploadMB: 50,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "llama3.2",
		},
		Generation: GenerationConfig{
			Backend:           BackendOpenRouter,
			Model:             "google/gemini-2.5-flash",
			Temperature:       0,
			MaxTokens:         1024,
			RequestsPerSecond: 2,
		},
		Storage: StorageConfig{
			DataDir:    defaultDataDir(),
			Backend:    StorageSQLite,
			ShardLimit: 716800,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "sangam:index_invalidations",
		},
		Cache:     CacheConfig{TTL: "600s"},
		Retrieval: RetrievalConfig{TopK: 3},
		Memory:    MemoryConfig{WindowPairs: 8},
		Ingest:    IngestConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML config file, environment
// variables, and the secrets file.
//
// The file lives at $XDG_CONFIG_HOME/sangam/config.yaml and holds flat
// dotted keys ("server.port: 4100"). Environment variables (SANGAM_*)
// override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generation.OpenRouterAPIKey == "" {
		if key, err := secrets.Get(secretOpenRouterKey); err == nil && key != "" {
			cfg.Generation.OpenRouterAPIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Generation.Backend {
	case BackendOpenRouter:
		if c.Generation.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. " +
				"Set it via environment variable SANGAM_OPENROUTER_API_KEY or switch generation.backend to ollama")
		}
	case BackendOllama:
	default:
		return fmt.Errorf("generation.backend must be %q or %q, got %q", BackendOpenRouter, BackendOllama, c.Generation.Backend)
	}

	switch c.Storage.Backend {
	case StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageSQLite, StorageRedis, c.Storage.Backend)
	}

	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	return nil
}

// CacheTTL returns cache.ttl as a duration.
func (c Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0
	}
	return d
}

// MaxUploadBytes returns server.max_upload_mb in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sangam-data"
		}
	}
	return filepath.Join(dir, "sangam")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sangam", "config.yaml")
}
