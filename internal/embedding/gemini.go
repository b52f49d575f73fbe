package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend embeds text through the Gemini API.
//
// gemini-embedding-001 natively outputs 3072 dimensions; OutputDimensionality
// truncates to the configured width (Matryoshka Representation Learning), so
// the same model can feed a 768-wide store.
type GeminiBackend struct {
	client *genai.Client
	model  string
	dim    int32
}

// NewGeminiBackend creates a Gemini embedding backend.
// dim selects the output dimensionality; values <= 0 use the model default.
func NewGeminiBackend(ctx context.Context, apiKey, model string, dim int) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		model:  model,
		dim:    int32(dim),
	}, nil
}

// NewGeminiBackendWithClient wires an existing client, letting the app share
// one client between embedding and generation.
func NewGeminiBackendWithClient(client *genai.Client, model string, dim int) *GeminiBackend {
	return &GeminiBackend{
		client: client,
		model:  model,
		dim:    int32(dim),
	}
}

// Embed implements Backend.
func (g *GeminiBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if g.dim > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &g.dim}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}

	return vectors, nil
}
