package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// GeminiEngine adapts the Gemini API as the text-generation collaborator.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

func NewGeminiEngine(apiKey, model string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-1.5-pro-latest"
	}

	return &GeminiEngine{client: client, model: model}, nil
}

func (e *GeminiEngine) Name() string { return "gemini" }

func (e *GeminiEngine) Tokenize(ctx context.Context, text string) ([]int32, error) {
	return nil, fmt.Errorf("%w: gemini does not expose token IDs", media.ErrCapability)
}

func (e *GeminiEngine) Detokenize(ctx context.Context, tokens []int32) (string, error) {
	return "", fmt.Errorf("%w: gemini does not expose token IDs", media.ErrCapability)
}

func (e *GeminiEngine) Generate(ctx context.Context, tokens []int32, cfg SamplingConfig) ([]int32, error) {
	return nil, fmt.Errorf("%w: use Complete for prompt-based generation", media.ErrCapability)
}

func (e *GeminiEngine) Complete(ctx context.Context, prompt string, cfg SamplingConfig) (string, error) {
	gm := e.client.GenerativeModel(e.model)
	gm.SetTemperature(cfg.Temperature)
	gm.SetTopP(cfg.TopP)
	if cfg.TopK > 0 {
		gm.SetTopK(int32(cfg.TopK))
	}
	if cfg.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	gm.StopSequences = cfg.Stop

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}

	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out, nil
}

// Close releases the underlying API client.
func (e *GeminiEngine) Close() error {
	return e.client.Close()
}
