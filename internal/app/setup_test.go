package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/koopa0/ragpipe/internal/config"
	"github.com/koopa0/ragpipe/internal/log"
)

// testConfig builds a validated config backed by a throwaway SQLite
// database, so Setup can run without external services.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Provider:           config.ProviderGemini,
		GenerationModel:    "gemini-2.5-flash",
		EmbedderModel:      config.DefaultGeminiEmbedderModel,
		EmbedderDim:        8,
		Temperature:        0.2,
		MaxOutputTokens:    1024,
		ChunkSize:          300,
		ChunkOverlap:       50,
		RetrievalTopK:      5,
		MaxSources:         3,
		ContextTokenBudget: 2048,
		SystemPrompt:       config.DefaultSystemPrompt,
		MaxPromptTokens:    8192,
		CharsPerToken:      4,
		MaxHistoryMessages: 20,
		StoreBackend:       config.StoreSQLite,
		SQLitePath:         filepath.Join(t.TempDir(), "ragpipe.db"),
	}
}

func TestSetup_SQLiteBackend(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	ctx := context.Background()
	a, err := Setup(ctx, testConfig(t), log.NewNop())
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() unexpected error: %v", err)
		}
	}()

	if a.Pipeline == nil {
		t.Fatal("Setup() returned app without pipeline")
	}
	if a.Store == nil {
		t.Fatal("Setup() returned app without store")
	}

	status, err := a.Pipeline.Status(ctx)
	if err != nil {
		t.Fatalf("Status() unexpected error: %v", err)
	}
	if !status.StoreReachable {
		t.Error("Status() store unreachable for a fresh sqlite database")
	}
	if status.ChunkCount != 0 {
		t.Errorf("Status() chunk count = %d, want 0", status.ChunkCount)
	}
}

func TestSetup_OpenAIProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg := testConfig(t)
	cfg.Provider = config.ProviderOpenAI
	cfg.GenerationModel = "gpt-4o-mini"
	cfg.EmbedderModel = config.DefaultOpenAIEmbedderModel

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}
	if a.Pipeline == nil {
		t.Fatal("Setup() returned app without pipeline")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}

func TestSetup_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := Setup(context.Background(), nil, nil)
	if !errors.Is(err, config.ErrConfigNil) {
		t.Errorf("Setup(nil) error = %v, want ErrConfigNil", err)
	}
}

func TestSetup_UnknownStoreBackend(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg := testConfig(t)
	cfg.StoreBackend = "bolt"

	_, err := Setup(context.Background(), cfg, log.NewNop())
	if !errors.Is(err, config.ErrInvalidStoreBackend) {
		t.Errorf("Setup() error = %v, want ErrInvalidStoreBackend", err)
	}
}

func TestSetup_InvalidChunkGeometry(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg := testConfig(t)
	cfg.ChunkOverlap = cfg.ChunkSize

	_, err := Setup(context.Background(), cfg, log.NewNop())
	if err == nil {
		t.Fatal("Setup() expected error for overlap >= size, got nil")
	}
}

func TestProvideLimiter(t *testing.T) {
	t.Parallel()

	if l := provideLimiter(&config.Config{}); l != nil {
		t.Error("provideLimiter() without a limit should return nil")
	}

	l := provideLimiter(&config.Config{EmbedRateLimit: 2.5})
	if l == nil {
		t.Fatal("provideLimiter() with a limit returned nil")
	}
	if got := float64(l.Limit()); got != 2.5 {
		t.Errorf("limiter rate = %v, want 2.5", got)
	}
}
