package embedding

import (
	"context"
	"fmt"

	"duoread-go/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type geminiClient struct {
	cfg   config.EmbeddingConfig
	model *genai.EmbeddingModel
}

// NewGeminiClient creates an embedding client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	return &geminiClient{cfg: cfg, model: cl.EmbeddingModel(cfg.Model)}, nil
}

func (g *geminiClient) ModelVersion() string {
	return g.cfg.Model
}

func (g *geminiClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	res, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return res.Embedding.Values, nil
}
