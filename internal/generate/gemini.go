package generate

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/koopa0/ragpipe/internal/prompt"
)

// Gemini streams completions through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generation backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// NewGeminiWithClient wires an existing client, letting the app share
// one client between embedding and generation.
func NewGeminiWithClient(client *genai.Client, model string) *Gemini {
	return &Gemini{client: client, model: model}
}

// Generate implements Backend.
func (g *Gemini) Generate(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := geminiContents(req.Prompt)

		cfg := &genai.GenerateContentConfig{}
		if req.Prompt.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.Prompt.System, genai.RoleUser)
		}
		if req.Temperature > 0 {
			cfg.Temperature = genai.Ptr(req.Temperature)
		}
		if req.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = req.MaxOutputTokens
		}

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("gemini generate: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// geminiContents maps composed messages onto Gemini roles. Gemini has
// no assistant role; model output uses RoleModel.
func geminiContents(p prompt.Prompt) []*genai.Content {
	contents := make([]*genai.Content, 0, len(p.Messages))
	for _, m := range p.Messages {
		role := genai.RoleUser
		if m.Role == prompt.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
