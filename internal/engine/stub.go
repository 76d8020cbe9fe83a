package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// EmbeddingDim is the vector size the stub encoder produces.
const EmbeddingDim = 512

// Stub is a deterministic in-process collaborator used by tests and the
// offline demo mode. Decoding produces fixed-geometry placeholder data,
// encoding derives the vector from a hash of the input, and transcription
// returns a fixed-confidence canned result, so every output is reproducible
// from the input bytes alone.
type Stub struct {
	// Vision and AudioSupport gate the encode paths; disabling one makes
	// the corresponding Encode call fail with a capability error.
	Vision       bool
	AudioSupport bool

	// TranscriptText overrides the transcript returned by Transcribe.
	TranscriptText string

	// Responses is a queue of generation outputs. When empty, Generate
	// echoes a fixed completion.
	Responses []string

	// EncodeCalls counts encode invocations across both modalities, for
	// asserting cache and coalescing behavior. Atomic because distinct
	// cache keys may compute concurrently.
	EncodeCalls atomic.Int32
}

// NewStub returns a stub with both modalities enabled.
func NewStub() *Stub {
	return &Stub{Vision: true, AudioSupport: true, TranscriptText: "stub transcript"}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) DecodeImage(ctx context.Context, data []byte, mimeType string) (*DecodedImage, error) {
	if !media.DefaultVisionCapabilities().SupportsFormat(mimeType) {
		return nil, fmt.Errorf("%w: %s", media.ErrBadFormat, mimeType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", media.ErrBadFormat)
	}
	const width, height, channels = 224, 224, 3
	pixels := make([]byte, width*height*channels)
	for i := range pixels {
		pixels[i] = byte((int(data[i%len(data)]) + i) % 255)
	}
	return &DecodedImage{Pixels: pixels, Width: width, Height: height, Channels: channels}, nil
}

func (s *Stub) EncodeImage(ctx context.Context, img *DecodedImage) ([]float32, error) {
	if !s.Vision {
		return nil, fmt.Errorf("%w: vision projector not loaded", media.ErrCapability)
	}
	s.EncodeCalls.Add(1)
	return hashVector(img.Pixels, 1), nil
}

func (s *Stub) DecodeAudio(ctx context.Context, data []byte, mimeType string) (*DecodedAudio, error) {
	if !media.DefaultAudioCapabilities().SupportsFormat(mimeType) {
		return nil, fmt.Errorf("%w: %s", media.ErrBadFormat, mimeType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", media.ErrBadFormat)
	}
	const sampleRate = 16000
	const duration = 5 * time.Second
	samples := make([]float32, sampleRate*5)
	for i := range samples {
		t := float64(i) / sampleRate
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*t))
	}
	return &DecodedAudio{Samples: samples, SampleRate: sampleRate, Channels: 1, Duration: duration}, nil
}

func (s *Stub) EncodeAudio(ctx context.Context, audio *DecodedAudio) ([]float32, error) {
	if !s.AudioSupport {
		return nil, fmt.Errorf("%w: audio projector not loaded", media.ErrCapability)
	}
	s.EncodeCalls.Add(1)
	seed := make([]byte, 0, len(audio.Samples))
	for i := 0; i < len(audio.Samples) && i < 1024; i++ {
		seed = append(seed, byte(int(audio.Samples[i]*127)&0xff))
	}
	return hashVector(seed, 2), nil
}

func (s *Stub) Transcribe(ctx context.Context, audio *DecodedAudio, language string) (*Transcript, error) {
	if !s.AudioSupport {
		return nil, fmt.Errorf("%w: speech-to-text not loaded", media.ErrCapability)
	}
	if !media.DefaultAudioCapabilities().SupportsLanguage(language) {
		return nil, fmt.Errorf("%w: language %q", media.ErrBadFormat, language)
	}
	return &Transcript{Text: s.TranscriptText, Confidence: 0.85}, nil
}

// hashVector derives a deterministic unit-range vector from the seed bytes.
func hashVector(seed []byte, salt uint64) []float32 {
	h := fnv.New64a()
	h.Write(seed)
	base := h.Sum64() + salt
	vec := make([]float32, EmbeddingDim)
	for i := range vec {
		vec[i] = float32((base+uint64(i))%1000) / 1000.0
	}
	return vec
}

// Tokenize maps the text to rune values. The mapping round-trips through
// Detokenize exactly.
func (s *Stub) Tokenize(ctx context.Context, text string) ([]int32, error) {
	runes := []rune(text)
	tokens := make([]int32, len(runes))
	for i, r := range runes {
		tokens[i] = r
	}
	return tokens, nil
}

func (s *Stub) Detokenize(ctx context.Context, tokens []int32) (string, error) {
	runes := make([]rune, len(tokens))
	for i, tok := range tokens {
		runes[i] = rune(tok)
	}
	return string(runes), nil
}

func (s *Stub) Generate(ctx context.Context, tokens []int32, cfg SamplingConfig) ([]int32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	text := "Understood."
	if len(s.Responses) > 0 {
		text = s.Responses[0]
		s.Responses = s.Responses[1:]
	}
	return s.Tokenize(ctx, text)
}
