package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend embeds text through the OpenAI embeddings API.
type OpenAIBackend struct {
	client openai.Client
	model  string
	dim    int64
}

// NewOpenAIBackend creates an OpenAI embedding backend.
// dim is passed as the dimensions parameter (text-embedding-3-* models only);
// values <= 0 use the model default.
func NewOpenAIBackend(apiKey, model string, dim int) *OpenAIBackend {
	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		dim:    int64(dim),
	}
}

// Embed implements Backend.
func (o *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(o.model),
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(o.dim)
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		// openai.Error keeps the HTTP status in its message, which the
		// gateway's retry classifier relies on.
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts",
			len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		// Index is set by the API; use it rather than assuming order.
		if data.Index < 0 || data.Index >= int64(len(vectors)) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", data.Index)
		}
		vectors[data.Index] = toFloat32(data.Embedding)
	}

	return vectors, nil
}

// toFloat32 converts []float64 to []float32.
// The API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
