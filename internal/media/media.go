// Package media defines the shared data model for multimodal inputs:
// references to image and audio sources, processing options, the embeddings
// derived from them, and the capability descriptors a loaded model exposes.
package media

import (
	"time"
)

// Modality identifies the kind of media a reference carries. It is supplied
// explicitly by the caller rather than guessed from file extensions or
// payload shape.
type Modality string

const (
	Image Modality = "image"
	Audio Modality = "audio"
)

// Source identifies where a reference's content comes from.
type Source int

const (
	// SourcePath points at a file on disk.
	SourcePath Source = iota
	// SourceInline carries a base64-encoded payload.
	SourceInline
	// SourceBuffer carries raw bytes.
	SourceBuffer
)

// ProcessingOptions tune how audio input is decoded and encoded. The zero
// value means "use the model's defaults". Options participate in cache-key
// derivation, so two references to the same content with different options
// produce distinct embeddings.
type ProcessingOptions struct {
	SampleRate  int           `json:"sample_rate,omitempty" yaml:"sample_rate"`
	Channels    int           `json:"channels,omitempty" yaml:"channels"`
	MaxDuration time.Duration `json:"max_duration,omitempty" yaml:"max_duration"`
	Normalize   bool          `json:"normalize,omitempty" yaml:"normalize"`
	Language    string        `json:"language,omitempty" yaml:"language"`
	Transcribe  bool          `json:"transcribe,omitempty" yaml:"transcribe"`
}

// Ref is a tagged reference to one media item. Exactly one of Path, Base64,
// or Payload is set, as indicated by Source.
type Ref struct {
	Modality    Modality
	Source      Source
	Path        string
	Base64      string
	Payload     []byte
	MIMEType    string
	ID          string
	Description string
	Options     ProcessingOptions
}

// ImagePath references an image file on disk.
func ImagePath(path string) Ref {
	return Ref{Modality: Image, Source: SourcePath, Path: path}
}

// ImageInline references a base64-encoded image payload.
func ImageInline(data, mimeType string) Ref {
	return Ref{Modality: Image, Source: SourceInline, Base64: data, MIMEType: mimeType}
}

// ImageBytes references a raw image payload.
func ImageBytes(data []byte, mimeType string) Ref {
	return Ref{Modality: Image, Source: SourceBuffer, Payload: data, MIMEType: mimeType}
}

// AudioPath references an audio file on disk.
func AudioPath(path string, opts ProcessingOptions) Ref {
	return Ref{Modality: Audio, Source: SourcePath, Path: path, Options: opts}
}

// AudioInline references a base64-encoded audio payload.
func AudioInline(data, mimeType string, opts ProcessingOptions) Ref {
	return Ref{Modality: Audio, Source: SourceInline, Base64: data, MIMEType: mimeType, Options: opts}
}

// AudioBytes references a raw audio payload.
func AudioBytes(data []byte, mimeType string, opts ProcessingOptions) Ref {
	return Ref{Modality: Audio, Source: SourceBuffer, Payload: data, MIMEType: mimeType, Options: opts}
}

// Resolution is an image size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VisionCapabilities describes what the loaded model's vision stack can do.
// Derived from loaded artifacts; read-only.
type VisionCapabilities struct {
	Supported                  bool       `json:"supported"`
	MaxImages                  int        `json:"max_images"`
	SupportedFormats           []string   `json:"supported_formats"`
	MaxResolution              Resolution `json:"max_resolution"`
	SupportsImageUnderstanding bool       `json:"supports_image_understanding"`
	SupportsVQA                bool       `json:"supports_vqa"`
}

// AudioCapabilities describes what the loaded model's audio stack can do.
type AudioCapabilities struct {
	Supported            bool     `json:"supported"`
	MaxAudioFiles        int      `json:"max_audio_files"`
	SupportedFormats     []string `json:"supported_formats"`
	MaxDuration          int      `json:"max_duration_seconds"`
	SupportedSampleRates []int    `json:"supported_sample_rates"`
	SupportsSpeechToText bool     `json:"supports_speech_to_text"`
	SupportedLanguages   []string `json:"supported_languages"`
}

// DefaultVisionCapabilities mirrors the capability constants of the CLIP
// projector stack this runtime was built against.
func DefaultVisionCapabilities() VisionCapabilities {
	return VisionCapabilities{
		Supported:                  true,
		MaxImages:                  4,
		SupportedFormats:           []string{"image/jpeg", "image/png", "image/webp", "image/bmp"},
		MaxResolution:              Resolution{Width: 1344, Height: 1344},
		SupportsImageUnderstanding: true,
		SupportsVQA:                true,
	}
}

// DefaultAudioCapabilities mirrors the capability constants of the Whisper
// stack this runtime was built against.
func DefaultAudioCapabilities() AudioCapabilities {
	return AudioCapabilities{
		Supported:            true,
		MaxAudioFiles:        1,
		SupportedFormats:     []string{"audio/wav", "audio/mp3", "audio/flac", "audio/ogg"},
		MaxDuration:          300,
		SupportedSampleRates: []int{16000, 22050, 44100, 48000},
		SupportsSpeechToText: true,
		SupportedLanguages:   []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"},
	}
}

// SupportsFormat reports whether mimeType is in the capability's format list.
func (c VisionCapabilities) SupportsFormat(mimeType string) bool {
	return containsString(c.SupportedFormats, mimeType)
}

// SupportsFormat reports whether mimeType is in the capability's format list.
func (c AudioCapabilities) SupportsFormat(mimeType string) bool {
	return containsString(c.SupportedFormats, mimeType)
}

// SupportsLanguage reports whether lang is in the capability's language list.
// The empty string means auto-detect and is always accepted.
func (c AudioCapabilities) SupportsLanguage(lang string) bool {
	if lang == "" {
		return true
	}
	return containsString(c.SupportedLanguages, lang)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
