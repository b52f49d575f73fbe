package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Nil receiver check
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	validProviders := []string{ProviderGemini, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v", ErrInvalidProvider, c.Provider, validProviders)
	}

	// 2. API key validation (required for embedding and generation)
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required",
				ErrMissingAPIKey)
		}
	}

	// 3. Model configuration validation
	if c.GenerationModel == "" {
		return fmt.Errorf("%w: generation_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxOutputTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	// Reference: https://ai.google.dev/gemini-api/docs/models
	if c.MaxOutputTokens < 1 || c.MaxOutputTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}

	// 4. Embedder configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.EmbedderDim < 1 || c.EmbedderDim > 3072 {
		return fmt.Errorf("%w: must be between 1 and 3072, got %d", ErrInvalidEmbedderDimension, c.EmbedderDim)
	}

	// The pgvector schema declares vector(768); a different width would fail
	// on the first insert, so reject it up front.
	if c.StoreBackend == StorePgvector && c.EmbedderDim != PgvectorDimension {
		return fmt.Errorf("%w: pgvector schema is fixed at %d dimensions, got %d",
			ErrInvalidEmbedderDimension, PgvectorDimension, c.EmbedderDim)
	}

	// 0 disables client-side rate limiting
	if c.EmbedRateLimit < 0 {
		return fmt.Errorf("%w: embed_rate_limit cannot be negative, got %.2f",
			ErrInvalidEmbedRateLimit, c.EmbedRateLimit)
	}

	// 5. Chunking validation
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be at least 1, got %d", ErrInvalidChunking, c.ChunkSize)
	}

	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap cannot be negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// 6. Retrieval validation
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	// Cosine similarity lives in [-1, 1]
	if c.ScoreThreshold < -1.0 || c.ScoreThreshold > 1.0 {
		return fmt.Errorf("%w: must be between -1.0 and 1.0, got %.2f", ErrInvalidScoreThreshold, c.ScoreThreshold)
	}

	if c.MaxSources < 1 || c.MaxSources > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidMaxSources, c.MaxSources)
	}

	if c.ContextTokenBudget < 1 {
		return fmt.Errorf("%w: context_token_budget must be at least 1, got %d",
			ErrInvalidTokenBudget, c.ContextTokenBudget)
	}

	if c.MaxPromptTokens < 1 {
		return fmt.Errorf("%w: max_prompt_tokens must be at least 1, got %d",
			ErrInvalidTokenBudget, c.MaxPromptTokens)
	}

	// English prose runs ~4 chars/token, CJK-heavy text closer to 1-2
	if c.CharsPerToken < 1 || c.CharsPerToken > 16 {
		return fmt.Errorf("%w: must be between 1 and 16, got %d", ErrInvalidCharsPerToken, c.CharsPerToken)
	}

	if c.MaxHistoryMessages < 1 || c.MaxHistoryMessages > 1000 {
		return fmt.Errorf("%w: max_history_messages must be between 1 and 1000, got %d",
			ErrInvalidHistoryLimit, c.MaxHistoryMessages)
	}

	// 7. Store backend validation (backend-specific settings checked only for
	// the selected backend so a pgvector deployment needs no Qdrant config)
	validBackends := []string{StorePgvector, StoreQdrant, StoreSQLite}
	if !slices.Contains(validBackends, c.StoreBackend) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v", ErrInvalidStoreBackend, c.StoreBackend, validBackends)
	}

	switch c.StoreBackend {
	case StorePgvector:
		if err := c.validatePostgres(); err != nil {
			return err
		}
	case StoreQdrant:
		if err := c.validateQdrant(); err != nil {
			return err
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path cannot be empty", ErrInvalidSQLitePath)
		}
	}

	return nil
}

// validatePostgres validates the PostgreSQL connection settings.
func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "ragpipe_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// validateQdrant validates the Qdrant connection settings.
func (c *Config) validateQdrant() error {
	if c.QdrantHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidQdrantHost)
	}

	if c.QdrantPort < 1 || c.QdrantPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidQdrantPort, c.QdrantPort)
	}

	if c.QdrantCollection == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidQdrantCollection)
	}

	return nil
}
