// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.ragpipe/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Models: provider selection, generation model, embedder model and dimension, embed rate limit
//   - Chunking: window size and overlap for document splitting
//   - Retrieval: top-k, score threshold, source cap, context token budget
//   - Prompt: system prompt, prompt token budget, estimation divisor, history cap
//   - Storage: vector store backend selection plus PostgreSQL/Qdrant/SQLite settings (see storage.go)
//   - Tracing: OTLP trace export (see observability.go)
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
// Validation: Comprehensive range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max output tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder produces incompatible vector dimensions.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidChunking indicates the chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidScoreThreshold indicates the score threshold is outside the cosine range.
	ErrInvalidScoreThreshold = errors.New("invalid score threshold")

	// ErrInvalidMaxSources indicates the per-answer source cap is out of range.
	ErrInvalidMaxSources = errors.New("invalid max sources")

	// ErrInvalidTokenBudget indicates a token budget value is out of range.
	ErrInvalidTokenBudget = errors.New("invalid token budget")

	// ErrInvalidCharsPerToken indicates the token estimation divisor is out of range.
	ErrInvalidCharsPerToken = errors.New("invalid chars per token")

	// ErrInvalidHistoryLimit indicates the history message cap is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidEmbedRateLimit indicates the embedding rate limit is negative.
	ErrInvalidEmbedRateLimit = errors.New("invalid embed rate limit")

	// ErrInvalidStoreBackend indicates the vector store backend is not supported.
	ErrInvalidStoreBackend = errors.New("invalid store backend")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidQdrantHost indicates the Qdrant host is invalid.
	ErrInvalidQdrantHost = errors.New("invalid Qdrant host")

	// ErrInvalidQdrantPort indicates the Qdrant gRPC port is out of range.
	ErrInvalidQdrantPort = errors.New("invalid Qdrant port")

	// ErrInvalidQdrantCollection indicates the Qdrant collection name is invalid.
	ErrInvalidQdrantCollection = errors.New("invalid Qdrant collection")

	// ErrInvalidSQLitePath indicates the SQLite database path is invalid.
	ErrInvalidSQLitePath = errors.New("invalid SQLite path")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation
	// Learning). The pgvector schema uses 768 dimensions; see PgvectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultOpenAIEmbedderModel is the default OpenAI embedder model when
	// the provider is switched to "openai". text-embedding-3-small supports
	// the dimensions parameter, so 768 works there too.
	DefaultOpenAIEmbedderModel = "text-embedding-3-small"

	// DefaultEmbedderDimension is the vector width used across backends.
	DefaultEmbedderDimension = 768

	// PgvectorDimension is pinned by the chunks table schema
	// (db/migrations). Changing it requires a new migration.
	PgvectorDimension = 768
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Vector store backend identifiers used in Config.StoreBackend.
const (
	StorePgvector = "pgvector"
	StoreQdrant   = "qdrant"
	StoreSQLite   = "sqlite"
)

// DefaultSystemPrompt instructs the model to answer from retrieved context.
const DefaultSystemPrompt = "You are a helpful assistant. Answer using the provided context passages. " +
	"Cite passage numbers like [1] when you rely on them. " +
	"If the context does not contain the answer, say so instead of guessing."

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Model provider configuration
	Provider        string  `mapstructure:"provider" json:"provider"`                 // "gemini" (default), "openai"
	GenerationModel string  `mapstructure:"generation_model" json:"generation_model"` // e.g. "gemini-2.5-flash", "gpt-4o-mini"
	EmbedderModel   string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDim     int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	Temperature     float32 `mapstructure:"temperature" json:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
	EmbedRateLimit  float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // embedding requests/sec, 0 = unlimited

	// Chunking configuration (rune-based windows)
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	RetrievalTopK      int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	ScoreThreshold     float64 `mapstructure:"score_threshold" json:"score_threshold"`
	MaxSources         int     `mapstructure:"max_sources" json:"max_sources"`
	ContextTokenBudget int     `mapstructure:"context_token_budget" json:"context_token_budget"`

	// Prompt configuration
	SystemPrompt       string `mapstructure:"system_prompt" json:"system_prompt"`
	MaxPromptTokens    int    `mapstructure:"max_prompt_tokens" json:"max_prompt_tokens"`
	CharsPerToken      int    `mapstructure:"chars_per_token" json:"chars_per_token"`           // token estimation divisor
	MaxHistoryMessages int    `mapstructure:"max_history_messages" json:"max_history_messages"` // newest history turns kept per ask

	// Vector store backend: "pgvector" (default), "qdrant", "sqlite"
	StoreBackend string `mapstructure:"store_backend" json:"store_backend"`

	// PostgreSQL configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Qdrant configuration (gRPC endpoint)
	QdrantHost       string `mapstructure:"qdrant_host" json:"qdrant_host"`
	QdrantPort       int    `mapstructure:"qdrant_port" json:"qdrant_port"`
	QdrantCollection string `mapstructure:"qdrant_collection" json:"qdrant_collection"`

	// SQLite configuration (embedded store; empty path defaults to ~/.ragpipe/ragpipe.db)
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path"`

	// Tracing configuration (see observability.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.ragpipe/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragpipe")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Empty SQLite path falls back next to the config file
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(configDir, "ragpipe.db")
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Model defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("generation_model", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_output_tokens", 1024)
	viper.SetDefault("embed_rate_limit", 0.0)

	// Chunking defaults
	viper.SetDefault("chunk_size", 1000)
	viper.SetDefault("chunk_overlap", 200)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", 5)
	viper.SetDefault("score_threshold", 0.0)
	viper.SetDefault("max_sources", 3)
	viper.SetDefault("context_token_budget", 2048)

	// Prompt defaults
	viper.SetDefault("system_prompt", DefaultSystemPrompt)
	viper.SetDefault("max_prompt_tokens", 8192)
	viper.SetDefault("chars_per_token", 4)
	viper.SetDefault("max_history_messages", 20)

	// Store defaults
	viper.SetDefault("store_backend", StorePgvector)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "ragpipe")
	viper.SetDefault("postgres_password", "ragpipe_dev_password")
	viper.SetDefault("postgres_db_name", "ragpipe")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Qdrant defaults (gRPC port, not the 6333 HTTP port)
	viper.SetDefault("qdrant_host", "localhost")
	viper.SetDefault("qdrant_port", 6334)
	viper.SetDefault("qdrant_collection", "chunks")

	// Tracing defaults
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "ragpipe")
}

// bindEnvVariables binds environment variable overrides explicitly.
// API keys are not bound here:
//  1. GEMINI_API_KEY - read in app setup, validated in cfg.Validate()
//  2. OPENAI_API_KEY - read in app setup, validated in cfg.Validate()
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Provider and model overrides
	mustBind("provider", "RAGPIPE_PROVIDER")
	mustBind("generation_model", "RAGPIPE_GENERATION_MODEL")
	mustBind("embedder_model", "RAGPIPE_EMBEDDER_MODEL")
	mustBind("embed_rate_limit", "RAGPIPE_EMBED_RATE_LIMIT")

	// Store backend selection
	mustBind("store_backend", "RAGPIPE_STORE_BACKEND")
	mustBind("sqlite_path", "RAGPIPE_SQLITE_PATH")
	mustBind("qdrant_host", "RAGPIPE_QDRANT_HOST")
	mustBind("qdrant_port", "RAGPIPE_QDRANT_PORT")

	// Tracing overrides
	mustBind("tracing.agent_host", "RAGPIPE_OTLP_HOST")
	mustBind("tracing.environment", "RAGPIPE_ENVIRONMENT")

	// NOTE: DATABASE_URL is handled separately in parseDatabaseURL because it
	// expands into multiple postgres_* fields rather than binding to one key.
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
// The compiler will remind you when tests fail.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
