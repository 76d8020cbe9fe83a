package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// RemoteProcessor implements the media-processing boundary against an
// OpenAI-compatible multimodal embedding server. The server performs decode
// and encode in one request, so the Decode step here only validates the
// format and carries the raw payload through; geometry fields stay zero
// until the server reports them.
type RemoteProcessor struct {
	baseURL     string
	model       string
	client      *http.Client
	transcriber *Transcriber
	vision      media.VisionCapabilities
	audio       media.AudioCapabilities
}

// NewRemoteProcessor creates a processor client. transcriber may be nil when
// the deployment has no speech-to-text endpoint; Transcribe then fails with
// a capability error.
func NewRemoteProcessor(baseURL, model string, transcriber *Transcriber) *RemoteProcessor {
	return &RemoteProcessor{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		transcriber: transcriber,
		vision:      media.DefaultVisionCapabilities(),
		audio:       media.DefaultAudioCapabilities(),
	}
}

func (p *RemoteProcessor) Name() string { return "remote:" + p.model }

type embedRequest struct {
	Model    string `json:"model"`
	Input    string `json:"input"`
	Modality string `json:"modality"`
	MIMEType string `json:"mime_type"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *RemoteProcessor) DecodeImage(ctx context.Context, data []byte, mimeType string) (*DecodedImage, error) {
	if !p.vision.SupportsFormat(mimeType) {
		return nil, fmt.Errorf("%w: %s", media.ErrBadFormat, mimeType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", media.ErrBadFormat)
	}
	return &DecodedImage{Pixels: data}, nil
}

func (p *RemoteProcessor) EncodeImage(ctx context.Context, img *DecodedImage) ([]float32, error) {
	return p.embed(ctx, img.Pixels, string(media.Image), "")
}

func (p *RemoteProcessor) DecodeAudio(ctx context.Context, data []byte, mimeType string) (*DecodedAudio, error) {
	if !p.audio.SupportsFormat(mimeType) {
		return nil, fmt.Errorf("%w: %s", media.ErrBadFormat, mimeType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", media.ErrBadFormat)
	}
	return &DecodedAudio{raw: data}, nil
}

func (p *RemoteProcessor) EncodeAudio(ctx context.Context, audio *DecodedAudio) ([]float32, error) {
	return p.embed(ctx, audio.raw, string(media.Audio), "")
}

func (p *RemoteProcessor) Transcribe(ctx context.Context, audio *DecodedAudio, language string) (*Transcript, error) {
	if p.transcriber == nil {
		return nil, fmt.Errorf("%w: no transcription endpoint configured", media.ErrCapability)
	}
	return p.transcriber.Transcribe(ctx, audio.raw, language)
}

func (p *RemoteProcessor) embed(ctx context.Context, payload []byte, modality, mimeType string) ([]float32, error) {
	reqBody := embedRequest{
		Model:    p.model,
		Input:    base64.StdEncoding.EncodeToString(payload),
		Modality: modality,
		MIMEType: mimeType,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", media.ErrBadFormat, string(body))
	}
	if resp.StatusCode == http.StatusNotImplemented {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", media.ErrCapability, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return embedResp.Data[0].Embedding, nil
}
