package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the single configuration object for the whole process. It is
// constructed once in cmd and passed to constructors; business logic never
// reads environment variables directly.
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Warehouse WarehouseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Schema    SchemaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

// LLMConfig points at an OpenAI-compatible chat/embeddings endpoint.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

// WarehouseConfig is the financial database the generated SQL runs against.
type WarehouseConfig struct {
	URL          string
	MaxConns     int
	QueryTimeout time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	// TopK few-shot examples injected into the generation prompt.
	TopK int
	// DistanceThreshold for the semantic question cache. Distances are
	// 1 - cosine similarity, so lower means more similar; a lookup is a
	// hit when the nearest neighbour's distance is <= the threshold.
	DistanceThreshold float64
}

type CacheConfig struct {
	// QueryTTL applies to results of the full pipeline endpoint.
	QueryTTL time.Duration
	// IntentTTL applies to the intent-scoped endpoints (all/ytd/qtd/mtd/...).
	IntentTTL time.Duration
}

type SchemaConfig struct {
	// DescriptionFile optionally overrides the embedded table/column
	// description text handed to the prompt assembler.
	DescriptionFile string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		LLM: LLMConfig{
			BaseURL:    "http://localhost:11434/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
			Timeout:    60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			URL:          "postgres://localhost:5432/finsight",
			MaxConns:     8,
			QueryTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:              2,
			DistanceThreshold: 0.25,
		},
		Cache: CacheConfig{
			QueryTTL:  300 * time.Second,
			IntentTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "finsight")
	}
	return ".finsight"
}

// Load builds the configuration from defaults overridden by FINSIGHT_*
// environment variables.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key (set FINSIGHT_LLM_API_KEY)")
	}
	if cfg.Server.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token (set FINSIGHT_API_TOKEN)")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Token, "FINSIGHT_API_TOKEN")
	setInt(&cfg.Server.Port, "FINSIGHT_PORT")

	setString(&cfg.LLM.BaseURL, "FINSIGHT_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "FINSIGHT_LLM_API_KEY")
	setString(&cfg.LLM.ChatModel, "FINSIGHT_LLM_CHAT_MODEL")
	setString(&cfg.LLM.EmbedModel, "FINSIGHT_LLM_EMBED_MODEL")
	setDuration(&cfg.LLM.Timeout, "FINSIGHT_LLM_TIMEOUT")

	setString(&cfg.Warehouse.URL, "FINSIGHT_WAREHOUSE_URL")
	setInt(&cfg.Warehouse.MaxConns, "FINSIGHT_WAREHOUSE_MAX_CONNS")
	setDuration(&cfg.Warehouse.QueryTimeout, "FINSIGHT_WAREHOUSE_QUERY_TIMEOUT")

	setString(&cfg.Redis.URL, "FINSIGHT_REDIS_URL")
	setString(&cfg.Storage.DataDir, "FINSIGHT_DATA_DIR")

	setInt(&cfg.Retrieval.TopK, "FINSIGHT_RETRIEVAL_TOP_K")
	setFloat(&cfg.Retrieval.DistanceThreshold, "FINSIGHT_QUESTION_DISTANCE_THRESHOLD")

	setDuration(&cfg.Cache.QueryTTL, "FINSIGHT_CACHE_QUERY_TTL")
	setDuration(&cfg.Cache.IntentTTL, "FINSIGHT_CACHE_INTENT_TTL")

	setString(&cfg.Schema.DescriptionFile, "FINSIGHT_SCHEMA_FILE")
	setString(&cfg.Log.Level, "FINSIGHT_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
