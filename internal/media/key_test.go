package media

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCacheKey_ContentIdentity(t *testing.T) {
	payload := []byte("the same image bytes")

	a := ImageBytes(payload, "image/png")
	b := ImageInline(base64.StdEncoding.EncodeToString(payload), "image/png")

	keyA, err := a.CacheKey()
	if err != nil {
		t.Fatalf("CacheKey failed: %v", err)
	}
	keyB, err := b.CacheKey()
	if err != nil {
		t.Fatalf("CacheKey failed: %v", err)
	}
	if keyA != keyB {
		t.Errorf("content-identical refs should share a key: %q vs %q", keyA, keyB)
	}
}

func TestCacheKey_DistinctContent(t *testing.T) {
	a := ImageBytes([]byte("first"), "image/png")
	b := ImageBytes([]byte("second"), "image/png")

	keyA, _ := a.CacheKey()
	keyB, _ := b.CacheKey()
	if keyA == keyB {
		t.Error("distinct payloads must not share a key")
	}
}

func TestCacheKey_MIMETypeMatters(t *testing.T) {
	a := ImageBytes([]byte("data"), "image/png")
	b := ImageBytes([]byte("data"), "image/jpeg")

	keyA, _ := a.CacheKey()
	keyB, _ := b.CacheKey()
	if keyA == keyB {
		t.Error("same payload with different MIME types must not share a key")
	}
}

func TestCacheKey_OptionsMatter(t *testing.T) {
	payload := []byte("audio samples")
	a := AudioBytes(payload, "audio/wav", ProcessingOptions{SampleRate: 16000})
	b := AudioBytes(payload, "audio/wav", ProcessingOptions{SampleRate: 44100})
	c := AudioBytes(payload, "audio/wav", ProcessingOptions{SampleRate: 16000})

	keyA, _ := a.CacheKey()
	keyB, _ := b.CacheKey()
	keyC, _ := c.CacheKey()

	if keyA == keyB {
		t.Error("different sample rates must produce different keys")
	}
	if keyA != keyC {
		t.Error("identical options must produce identical keys")
	}
}

func TestCacheKey_PathRef(t *testing.T) {
	a := ImagePath("/data/./cat.png")
	b := ImagePath("/data/cat.png")

	keyA, _ := a.CacheKey()
	keyB, _ := b.CacheKey()
	if keyA != keyB {
		t.Errorf("equivalent paths should share a key: %q vs %q", keyA, keyB)
	}
	if !strings.HasPrefix(keyA, "image:path:") {
		t.Errorf("unexpected path key shape: %q", keyA)
	}
}

func TestCacheKey_ModalityPrefix(t *testing.T) {
	img := ImagePath("/data/clip.bin")
	aud := AudioPath("/data/clip.bin", ProcessingOptions{})

	keyImg, _ := img.CacheKey()
	keyAud, _ := aud.CacheKey()
	if keyImg == keyAud {
		t.Error("same path under different modalities must not share a key")
	}
}

func TestCacheKey_InvalidBase64(t *testing.T) {
	r := ImageInline("not--valid--base64!!!", "image/png")
	_, err := r.CacheKey()
	if err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat, got %v", err)
	}
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Errorf("expected ProcessingError, got %T", err)
	}
}

func TestCanonicalOptions(t *testing.T) {
	o := ProcessingOptions{
		SampleRate:  16000,
		Channels:    1,
		MaxDuration: 30 * time.Second,
		Normalize:   true,
		Language:    "en",
		Transcribe:  true,
	}
	got := o.canonical()
	want := "sr=16000,ch=1,max=30000000000,norm=true,lang=en,st=true"
	if got != want {
		t.Errorf("canonical() = %q, want %q", got, want)
	}
}

func TestDescribe(t *testing.T) {
	withID := Ref{Modality: Image, Source: SourceBuffer, ID: "cover-art"}
	if withID.Describe() != "cover-art" {
		t.Errorf("explicit ID should win, got %q", withID.Describe())
	}

	path := ImagePath("/data/cat.png")
	if path.Describe() != "/data/cat.png" {
		t.Errorf("path ref should describe as its path, got %q", path.Describe())
	}

	buf := ImageBytes([]byte{1, 2, 3}, "image/png")
	if !strings.Contains(buf.Describe(), "image/png") {
		t.Errorf("buffer ref should mention MIME type, got %q", buf.Describe())
	}
}

func TestEmbeddingDimensions(t *testing.T) {
	e := &Embedding{Vector: make([]float32, 512)}
	if e.Dimensions() != 512 {
		t.Errorf("expected 512 dimensions, got %d", e.Dimensions())
	}
}

func TestCapabilityFormatChecks(t *testing.T) {
	v := DefaultVisionCapabilities()
	if !v.SupportsFormat("image/png") {
		t.Error("png should be supported")
	}
	if v.SupportsFormat("image/tiff") {
		t.Error("tiff should not be supported")
	}

	a := DefaultAudioCapabilities()
	if !a.SupportsFormat("audio/wav") {
		t.Error("wav should be supported")
	}
	if !a.SupportsLanguage("") {
		t.Error("empty language means auto-detect and is always accepted")
	}
	if a.SupportsLanguage("xx") {
		t.Error("unknown language should be rejected")
	}
}
