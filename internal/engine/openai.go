package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// OpenAIEngine adapts any OpenAI-compatible completion server (including a
// local llama.cpp server) as the text-generation collaborator. Like the
// Ollama adapter it is prompt-based and implements Completer.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(apiKey, baseURL, model string) (*OpenAIEngine, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("API key or base URL is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	if model == "" {
		model = openai.GPT3Dot5TurboInstruct
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Tokenize(ctx context.Context, text string) ([]int32, error) {
	return nil, fmt.Errorf("%w: completion API does not expose token IDs", media.ErrCapability)
}

func (e *OpenAIEngine) Detokenize(ctx context.Context, tokens []int32) (string, error) {
	return "", fmt.Errorf("%w: completion API does not expose token IDs", media.ErrCapability)
}

func (e *OpenAIEngine) Generate(ctx context.Context, tokens []int32, cfg SamplingConfig) ([]int32, error) {
	return nil, fmt.Errorf("%w: use Complete for prompt-based generation", media.ErrCapability)
}

func (e *OpenAIEngine) Complete(ctx context.Context, prompt string, cfg SamplingConfig) (string, error) {
	resp, err := e.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       e.model,
		Prompt:      prompt,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
		Stop:        cfg.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return resp.Choices[0].Text, nil
}

// Transcriber turns an OpenAI-compatible audio endpoint (Whisper-style) into
// the transcription half of the media processor boundary. It is used by
// RemoteProcessor when a transcription base URL is configured.
type Transcriber struct {
	client *openai.Client
	model  string
}

func NewTranscriber(apiKey, baseURL, model string) *Transcriber {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{client: openai.NewClientWithConfig(config), model: model}
}

// Transcribe submits the raw audio payload for speech-to-text. The endpoint
// reports no confidence score, so a fixed mid-high value is used.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, language string) (*Transcript, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(data),
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	return &Transcript{Text: resp.Text, Confidence: 0.85}, nil
}
