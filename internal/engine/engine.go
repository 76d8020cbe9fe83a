// Package engine declares the two external collaborator boundaries of the
// runtime: the media processor that turns decoded media into embedding
// vectors, and the text engine that turns a rendered prompt into generated
// text. Implementations adapt local or remote inference backends; the rest
// of the runtime treats them as opaque.
package engine

import (
	"context"
	"time"
)

// DecodedImage is the pixel-array form of an image after format decoding.
type DecodedImage struct {
	Pixels   []byte
	Width    int
	Height   int
	Channels int
}

// DecodedAudio is the sample-array form of an audio clip after format
// decoding.
type DecodedAudio struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Duration   time.Duration

	// raw keeps the undecoded payload for processors that delegate
	// decoding to a remote server.
	raw []byte
}

// Transcript is the result of speech-to-text over decoded audio.
type Transcript struct {
	Text       string
	Confidence float32
}

// Processor is the media-processing collaborator. Decode failures must wrap
// media.ErrBadFormat; encode and transcribe failures caused by a missing
// model capability must wrap media.ErrCapability so callers can tell the two
// apart.
type Processor interface {
	DecodeImage(ctx context.Context, data []byte, mimeType string) (*DecodedImage, error)
	EncodeImage(ctx context.Context, img *DecodedImage) ([]float32, error)
	DecodeAudio(ctx context.Context, data []byte, mimeType string) (*DecodedAudio, error)
	EncodeAudio(ctx context.Context, audio *DecodedAudio) ([]float32, error)
	Transcribe(ctx context.Context, audio *DecodedAudio, language string) (*Transcript, error)

	// Name identifies the encoder in embedding metadata.
	Name() string
}

// SamplingConfig carries the generation parameters passed through to the
// text engine.
type SamplingConfig struct {
	Temperature float32  `json:"temperature" yaml:"temperature"`
	TopP        float32  `json:"top_p" yaml:"top_p"`
	TopK        int      `json:"top_k" yaml:"top_k"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
	Stop        []string `json:"stop,omitempty" yaml:"stop"`
	Seed        int      `json:"seed,omitempty" yaml:"seed"`
}

// DefaultSampling returns the generation defaults used when a config is not
// supplied.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{Temperature: 0.8, TopP: 0.9, TopK: 40, MaxTokens: 512}
}

// TextEngine is the text-generation collaborator. Generate honors
// cancellation through ctx; aborting generation must leave no engine-side
// state behind. Engines that cannot expose token IDs return an error
// wrapping media.ErrCapability from Tokenize and Detokenize.
type TextEngine interface {
	Tokenize(ctx context.Context, text string) ([]int32, error)
	Detokenize(ctx context.Context, tokens []int32) (string, error)
	Generate(ctx context.Context, tokens []int32, cfg SamplingConfig) ([]int32, error)

	// Name returns the engine identifier (e.g. "stub", "ollama").
	Name() string
}

// Completer is an optional upgrade interface for engines that accept a
// prompt string directly. Callers prefer it over the tokenize/generate/
// detokenize round trip when available.
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg SamplingConfig) (string, error)
}

// Complete runs generation for a rendered prompt, using the Completer fast
// path when the engine provides one.
func Complete(ctx context.Context, eng TextEngine, prompt string, cfg SamplingConfig) (string, error) {
	if c, ok := eng.(Completer); ok {
		return c.Complete(ctx, prompt, cfg)
	}
	tokens, err := eng.Tokenize(ctx, prompt)
	if err != nil {
		return "", err
	}
	out, err := eng.Generate(ctx, tokens, cfg)
	if err != nil {
		return "", err
	}
	return eng.Detokenize(ctx, out)
}
