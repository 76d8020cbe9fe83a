// Package policy gates which media references a session will accept
// before any processing happens: file-path scoping, payload size limits,
// MIME allow-lists, and per-turn attachment counts.
package policy

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// Policy defines the admission limits for media attachments.
type Policy struct {
	AllowedFileGlobs []string      `json:"allowed_file_globs" yaml:"allowed_file_globs"`
	MaxPayloadBytes  int           `json:"max_payload_bytes" yaml:"max_payload_bytes"`
	AllowedImageMIME []string      `json:"allowed_image_mime" yaml:"allowed_image_mime"`
	AllowedAudioMIME []string      `json:"allowed_audio_mime" yaml:"allowed_audio_mime"`
	MaxAudioDuration time.Duration `json:"max_audio_duration" yaml:"max_audio_duration"`
	MaxImagesPerTurn int           `json:"max_images_per_turn" yaml:"max_images_per_turn"`
	MaxAudioPerTurn  int           `json:"max_audio_per_turn" yaml:"max_audio_per_turn"`
}

// DefaultPolicy provides safe defaults aligned with the default
// capability descriptors.
var DefaultPolicy = Policy{
	AllowedFileGlobs: []string{"**"},
	MaxPayloadBytes:  32 << 20,
	AllowedImageMIME: []string{"image/jpeg", "image/png", "image/webp", "image/bmp"},
	AllowedAudioMIME: []string{"audio/wav", "audio/mp3", "audio/flac", "audio/ogg"},
	MaxAudioDuration: 300 * time.Second,
	MaxImagesPerTurn: 4,
	MaxAudioPerTurn:  1,
}

// Violation describes a specific breach of policy. It is returned as an
// error so callers can surface the rule that fired.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy: %s: %s", v.Rule, v.Message)
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckRef validates one media reference. A nil return means the
// reference may be processed.
func (g *Guard) CheckRef(ref media.Ref) error {
	if ref.Source == media.SourcePath {
		if v := g.checkPath(ref.Path); v != nil {
			return v
		}
	}
	if v := g.checkPayload(ref); v != nil {
		return v
	}
	if v := g.checkMIME(ref); v != nil {
		return v
	}
	if v := g.checkDuration(ref); v != nil {
		return v
	}
	return nil
}

// CheckTurn validates the attachment counts of a whole turn.
func (g *Guard) CheckTurn(images, audio int) error {
	if g.policy.MaxImagesPerTurn > 0 && images > g.policy.MaxImagesPerTurn {
		return &Violation{Rule: "max_images_per_turn",
			Message: fmt.Sprintf("%d images exceeds limit %d", images, g.policy.MaxImagesPerTurn)}
	}
	if g.policy.MaxAudioPerTurn > 0 && audio > g.policy.MaxAudioPerTurn {
		return &Violation{Rule: "max_audio_per_turn",
			Message: fmt.Sprintf("%d audio files exceeds limit %d", audio, g.policy.MaxAudioPerTurn)}
	}
	return nil
}

func (g *Guard) checkPath(path string) *Violation {
	allowed := false
	for _, pattern := range g.policy.AllowedFileGlobs {
		match, err := doublestar.Match(pattern, path)
		if err == nil && match {
			allowed = true
			break
		}
	}
	if !allowed {
		return &Violation{Rule: "allowed_file_globs", Message: "file access not allowed: " + path}
	}
	return nil
}

func (g *Guard) checkPayload(ref media.Ref) *Violation {
	if g.policy.MaxPayloadBytes <= 0 {
		return nil
	}
	var size int
	switch ref.Source {
	case media.SourceInline:
		// Base64 expands by 4/3; compare against the decoded size.
		size = len(ref.Base64) / 4 * 3
	case media.SourceBuffer:
		size = len(ref.Payload)
	default:
		return nil
	}
	if size > g.policy.MaxPayloadBytes {
		return &Violation{Rule: "max_payload_bytes",
			Message: fmt.Sprintf("payload of %d bytes exceeds limit %d", size, g.policy.MaxPayloadBytes)}
	}
	return nil
}

func (g *Guard) checkMIME(ref media.Ref) *Violation {
	if ref.MIMEType == "" {
		return nil
	}
	var allowList []string
	if ref.Modality == media.Image {
		allowList = g.policy.AllowedImageMIME
	} else {
		allowList = g.policy.AllowedAudioMIME
	}
	if len(allowList) == 0 {
		return nil
	}
	for _, m := range allowList {
		if m == ref.MIMEType {
			return nil
		}
	}
	return &Violation{Rule: "allowed_mime", Message: "MIME type not allowed: " + ref.MIMEType}
}

func (g *Guard) checkDuration(ref media.Ref) *Violation {
	if ref.Modality != media.Audio || g.policy.MaxAudioDuration <= 0 {
		return nil
	}
	if ref.Options.MaxDuration > g.policy.MaxAudioDuration {
		return &Violation{Rule: "max_audio_duration",
			Message: fmt.Sprintf("requested duration %s exceeds limit %s",
				ref.Options.MaxDuration, g.policy.MaxAudioDuration)}
	}
	return nil
}
