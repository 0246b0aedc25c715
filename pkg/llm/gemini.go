package llm

import (
	"context"
	"errors"
	"fmt"

	"duoread-go/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type geminiClient struct {
	cfg    config.LLMConfig
	client *genai.Client
}

// NewGeminiClient creates a streaming generation client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &geminiClient{cfg: cfg, client: cl}, nil
}

// StreamChatMessages maps system messages to the system instruction and the
// rest to chat history, then streams the reply to the last user message.
func (g *geminiClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, onFragment FragmentFunc) error {
	if len(messages) == 0 {
		return errors.New("gemini: no messages")
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.cfg.Model)
	if gen == nil {
		gen = ParamsFromConfig(g.cfg.Generation)
	}
	if gen != nil {
		if gen.Temperature != nil {
			m.SetTemperature(float32(*gen.Temperature))
		}
		if gen.TopP != nil {
			m.SetTopP(float32(*gen.TopP))
		}
		if gen.MaxTokens != nil {
			m.SetMaxOutputTokens(int32(*gen.MaxTokens))
		}
	}

	cs := m.StartChat()
	last := messages[len(messages)-1]
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case "system":
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
		case "assistant":
			cs.History = append(cs.History, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			cs.History = append(cs.History, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}

	iter := cs.SendMessageStream(ctx, genai.Text(last.Content))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok && t != "" {
					if werr := onFragment(string(t)); werr != nil {
						return werr
					}
				}
			}
		}
	}
}
