package media

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// CacheKey derives the deterministic cache identity of the reference:
// content identity combined with a canonical serialization of the processing
// options. Path references key on the cleaned path; inline and buffer
// references key on a BLAKE3 hash of the full payload plus the MIME type, so
// identical content always collides regardless of how it was supplied and
// distinct content never does.
func (r Ref) CacheKey() (string, error) {
	var content string
	switch r.Source {
	case SourcePath:
		content = "path:" + filepath.Clean(r.Path)
	case SourceInline:
		raw, err := base64.StdEncoding.DecodeString(r.Base64)
		if err != nil {
			return "", NewProcessingError("decode", r.Describe(), fmt.Errorf("%w: invalid base64 payload: %v", ErrBadFormat, err))
		}
		content = payloadKey(raw, r.MIMEType)
	case SourceBuffer:
		content = payloadKey(r.Payload, r.MIMEType)
	default:
		return "", fmt.Errorf("unknown media source %d", r.Source)
	}
	return string(r.Modality) + ":" + content + "|" + r.Options.canonical(), nil
}

func payloadKey(payload []byte, mimeType string) string {
	sum := blake3.Sum256(payload)
	return "b3:" + hex.EncodeToString(sum[:]) + ":" + mimeType
}

// canonical serializes the options in a fixed field order so option-identical
// references always produce identical keys.
func (o ProcessingOptions) canonical() string {
	return fmt.Sprintf("sr=%d,ch=%d,max=%d,norm=%t,lang=%s,st=%t",
		o.SampleRate, o.Channels, int64(o.MaxDuration), o.Normalize, o.Language, o.Transcribe)
}

// Describe returns a short human-readable identity for error messages and
// logs: the explicit ID when present, the path for file references, and the
// MIME type plus size otherwise.
func (r Ref) Describe() string {
	if r.ID != "" {
		return r.ID
	}
	switch r.Source {
	case SourcePath:
		return r.Path
	case SourceInline:
		return fmt.Sprintf("inline %s (%d bytes)", r.MIMEType, len(r.Base64))
	default:
		return fmt.Sprintf("buffer %s (%d bytes)", r.MIMEType, len(r.Payload))
	}
}
