package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// OllamaEngine adapts a local Ollama server as the text-generation
// collaborator. The server consumes rendered prompts directly, so it
// implements Completer; token IDs are not exposed over its HTTP API, and
// Tokenize/Detokenize report that as a capability error.
type OllamaEngine struct {
	client *api.Client
	model  string
}

func NewOllamaEngine(model string) (*OllamaEngine, error) {
	if model == "" {
		model = "llama3.2"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", baseURL, err)
	}

	return &OllamaEngine{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
	}, nil
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Tokenize(ctx context.Context, text string) ([]int32, error) {
	return nil, fmt.Errorf("%w: ollama does not expose token IDs", media.ErrCapability)
}

func (e *OllamaEngine) Detokenize(ctx context.Context, tokens []int32) (string, error) {
	return "", fmt.Errorf("%w: ollama does not expose token IDs", media.ErrCapability)
}

func (e *OllamaEngine) Generate(ctx context.Context, tokens []int32, cfg SamplingConfig) ([]int32, error) {
	return nil, fmt.Errorf("%w: use Complete for prompt-based generation", media.ErrCapability)
}

// Complete sends the rendered prompt as-is. Raw mode bypasses the server's
// own chat templating; the session has already applied role templates.
func (e *OllamaEngine) Complete(ctx context.Context, prompt string, cfg SamplingConfig) (string, error) {
	req := &api.GenerateRequest{
		Model:  e.model,
		Prompt: prompt,
		Raw:    true,
		Stream: new(bool), // false
		Options: map[string]any{
			"temperature": cfg.Temperature,
			"top_p":       cfg.TopP,
			"top_k":       cfg.TopK,
			"num_predict": cfg.MaxTokens,
		},
	}
	if len(cfg.Stop) > 0 {
		req.Options["stop"] = cfg.Stop
	}
	if cfg.Seed != 0 {
		req.Options["seed"] = cfg.Seed
	}

	var out string
	err := e.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out += resp.Response
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return out, nil
}
