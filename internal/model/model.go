// Package model owns the shared state behind every conversation: the media
// processor, the per-modality embedding caches, the capability descriptors
// of the loaded artifacts, and the temp files staged for inline payloads.
// Contexts created from a model share its caches; disposal order is
// model-last.
package model

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/observe"
)

// Config sizes the model's embedding caches. Capacities are independent per
// modality.
type Config struct {
	ImageCacheCapacity int
	AudioCacheCapacity int
}

// DefaultConfig returns the cache sizes used when none are configured.
func DefaultConfig() Config {
	return Config{ImageCacheCapacity: 32, AudioCacheCapacity: 16}
}

// Model binds a media processor to its embedding caches and capability
// descriptors. One model serves any number of contexts; cache mutation is
// the only shared-state critical section and is serialized internally.
type Model struct {
	mu       sync.Mutex
	disposed bool

	proc   engine.Processor
	obs    *observe.Observer
	vision media.VisionCapabilities
	audio  media.AudioCapabilities

	imageCache *EmbeddingCache
	audioCache *EmbeddingCache
	temps      *tempRegistry
}

// New creates a model around the given processor. Non-positive cache
// capacities are rejected.
func New(proc engine.Processor, obs *observe.Observer, cfg Config) (*Model, error) {
	imageCache, err := NewEmbeddingCache(cfg.ImageCacheCapacity)
	if err != nil {
		return nil, err
	}
	audioCache, err := NewEmbeddingCache(cfg.AudioCacheCapacity)
	if err != nil {
		return nil, err
	}
	temps, err := newTempRegistry()
	if err != nil {
		return nil, err
	}

	return &Model{
		proc:       proc,
		obs:        obs,
		vision:     media.DefaultVisionCapabilities(),
		audio:      media.DefaultAudioCapabilities(),
		imageCache: imageCache,
		audioCache: audioCache,
		temps:      temps,
	}, nil
}

// VisionCapabilities returns the read-only vision capability descriptor.
func (m *Model) VisionCapabilities() media.VisionCapabilities { return m.vision }

// AudioCapabilities returns the read-only audio capability descriptor.
func (m *Model) AudioCapabilities() media.AudioCapabilities { return m.audio }

// SetVisionSupport toggles vision availability, for deployments whose
// loaded artifacts lack a vision projector.
func (m *Model) SetVisionSupport(supported bool) { m.vision.Supported = supported }

// SetAudioSupport toggles audio availability.
func (m *Model) SetAudioSupport(supported bool) { m.audio.Supported = supported }

func (m *Model) checkLive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return fmt.Errorf("model: %w", media.ErrDisposed)
	}
	return nil
}

// ProcessImage resolves the reference to an embedding through the image
// cache, invoking the processor only on a miss. Concurrent calls for the
// same content share one computation.
func (m *Model) ProcessImage(ctx context.Context, ref media.Ref) (*media.Embedding, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if !m.vision.Supported {
		return nil, fmt.Errorf("vision: %w", media.ErrUnsupportedModality)
	}

	key, err := ref.CacheKey()
	if err != nil {
		return nil, err
	}

	if _, ok := m.imageCache.Get(key); ok {
		m.obs.Events().PublishWithData(observe.EventCacheHit, "", map[string]interface{}{"key": key})
	}

	return m.imageCache.GetOrCompute(ctx, key, func() (*media.Embedding, error) {
		ctx, span := m.obs.StartSpan(ctx, "ProcessImage")
		defer span.End()
		m.obs.Events().PublishWithData(observe.EventCacheMiss, "", map[string]interface{}{"key": key})

		payload, mimeType, err := m.resolvePayload(ref)
		if err != nil {
			return nil, err
		}

		decoded, err := m.proc.DecodeImage(ctx, payload, mimeType)
		if err != nil {
			return nil, media.NewProcessingError("decode image", ref.Describe(), err)
		}
		vector, err := m.proc.EncodeImage(ctx, decoded)
		if err != nil {
			return nil, media.NewProcessingError("encode image", ref.Describe(), err)
		}

		e := &media.Embedding{
			Vector:  vector,
			OwnerID: ownerID(ref, key),
			Meta: media.Metadata{
				ProcessedAt: time.Now(),
				Encoder:     m.proc.Name(),
				Width:       decoded.Width,
				Height:      decoded.Height,
			},
		}
		m.obs.Log().Debug().Str("owner", e.OwnerID).Int("dims", e.Dimensions()).Msg("image embedded")
		m.obs.Events().PublishWithData(observe.EventMediaResolved, "", map[string]interface{}{"key": key, "modality": string(media.Image)})
		return e, nil
	})
}

// ProcessAudio resolves the reference to an embedding through the audio
// cache, additionally producing a transcript when the reference's options
// request one.
func (m *Model) ProcessAudio(ctx context.Context, ref media.Ref) (*media.Embedding, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if !m.audio.Supported {
		return nil, fmt.Errorf("audio: %w", media.ErrUnsupportedModality)
	}
	if ref.Options.Transcribe && !m.audio.SupportsSpeechToText {
		return nil, media.NewProcessingError("transcribe", ref.Describe(),
			fmt.Errorf("%w: speech-to-text not available", media.ErrCapability))
	}

	key, err := ref.CacheKey()
	if err != nil {
		return nil, err
	}

	return m.audioCache.GetOrCompute(ctx, key, func() (*media.Embedding, error) {
		ctx, span := m.obs.StartSpan(ctx, "ProcessAudio")
		defer span.End()
		m.obs.Events().PublishWithData(observe.EventCacheMiss, "", map[string]interface{}{"key": key})

		payload, mimeType, err := m.resolvePayload(ref)
		if err != nil {
			return nil, err
		}

		decoded, err := m.proc.DecodeAudio(ctx, payload, mimeType)
		if err != nil {
			return nil, media.NewProcessingError("decode audio", ref.Describe(), err)
		}
		if max := m.maxAudioDuration(ref.Options); max > 0 && decoded.Duration > max {
			return nil, media.NewProcessingError("decode audio", ref.Describe(),
				fmt.Errorf("%w: duration %s exceeds limit %s", media.ErrBadFormat, decoded.Duration, max))
		}

		vector, err := m.proc.EncodeAudio(ctx, decoded)
		if err != nil {
			return nil, media.NewProcessingError("encode audio", ref.Describe(), err)
		}

		e := &media.Embedding{
			Vector:  vector,
			OwnerID: ownerID(ref, key),
			Meta: media.Metadata{
				ProcessedAt: time.Now(),
				Encoder:     m.proc.Name(),
				Duration:    decoded.Duration,
				SampleRate:  decoded.SampleRate,
				Channels:    decoded.Channels,
			},
		}

		if ref.Options.Transcribe {
			tr, err := m.proc.Transcribe(ctx, decoded, ref.Options.Language)
			if err != nil {
				return nil, media.NewProcessingError("transcribe", ref.Describe(), err)
			}
			e.Transcript = tr.Text
			e.Confidence = tr.Confidence
		}

		m.obs.Log().Debug().Str("owner", e.OwnerID).Int("dims", e.Dimensions()).Msg("audio embedded")
		m.obs.Events().PublishWithData(observe.EventMediaResolved, "", map[string]interface{}{"key": key, "modality": string(media.Audio)})
		return e, nil
	})
}

func (m *Model) maxAudioDuration(opts media.ProcessingOptions) time.Duration {
	if opts.MaxDuration > 0 {
		return opts.MaxDuration
	}
	if m.audio.MaxDuration > 0 {
		return time.Duration(m.audio.MaxDuration) * time.Second
	}
	return 0
}

// resolvePayload produces the raw bytes and MIME type for a reference.
// Inline and buffer payloads are staged to a tracked temp file so they have
// an on-disk identity until the model is disposed.
func (m *Model) resolvePayload(ref media.Ref) ([]byte, string, error) {
	switch ref.Source {
	case media.SourcePath:
		data, err := os.ReadFile(ref.Path) // #nosec G304
		if err != nil {
			return nil, "", media.NewProcessingError("read", ref.Describe(), err)
		}
		mimeType := ref.MIMEType
		if mimeType == "" {
			mimeType = mimeFromPath(ref.Path)
		}
		return data, mimeType, nil
	case media.SourceInline:
		data, err := base64.StdEncoding.DecodeString(ref.Base64)
		if err != nil {
			return nil, "", media.NewProcessingError("decode", ref.Describe(),
				fmt.Errorf("%w: invalid base64 payload: %v", media.ErrBadFormat, err))
		}
		if _, err := m.temps.stage(data, extensionFor(ref.MIMEType)); err != nil {
			return nil, "", err
		}
		return data, ref.MIMEType, nil
	case media.SourceBuffer:
		if _, err := m.temps.stage(ref.Payload, extensionFor(ref.MIMEType)); err != nil {
			return nil, "", err
		}
		return ref.Payload, ref.MIMEType, nil
	}
	return nil, "", fmt.Errorf("unknown media source %d", ref.Source)
}

// ClearCaches empties both embedding caches. Embeddings already admitted
// into context windows remain valid.
func (m *Model) ClearCaches() {
	m.imageCache.Clear()
	m.audioCache.Clear()
}

// CacheLen returns the entry count of the cache for the modality.
func (m *Model) CacheLen(mod media.Modality) int {
	if mod == media.Image {
		return m.imageCache.Len()
	}
	return m.audioCache.Len()
}

// StagedTempFiles returns the number of temp files currently tracked.
func (m *Model) StagedTempFiles() int {
	return m.temps.count()
}

// Dispose tears the model down: both caches are emptied and every staged
// temp file is removed (removal failures are swallowed). Dispose is
// idempotent. Contexts must be disposed before their model.
func (m *Model) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.imageCache.Clear()
	m.audioCache.Clear()
	m.temps.cleanup()
	m.obs.Events().PublishSimple(observe.EventModelDisposed, "")
	m.obs.Log().Debug().Msg("model disposed")
}

func ownerID(ref media.Ref, key string) string {
	if ref.ID != "" {
		return ref.ID
	}
	return key
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

func mimeFromPath(path string) string {
	if t, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "application/octet-stream"
}

func extensionFor(mimeType string) string {
	for ext, t := range mimeByExt {
		if t == mimeType && ext != ".jpeg" {
			return ext
		}
	}
	return ".bin"
}
