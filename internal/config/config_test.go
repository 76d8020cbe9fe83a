package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/chorus/internal/media"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "chorus.yaml")
	os.WriteFile(yamlPath, []byte(`
engine: ollama
model: llava
cache:
  image_capacity: 8
  audio_capacity: 4
window:
  max_images: 2
  max_audio: 1
`), 0600)

	jsonPath := filepath.Join(tmpDir, "chorus.json")
	os.WriteFile(jsonPath, []byte(`{"engine": "stub", "model": "m", "cache": {"image_capacity": 8, "audio_capacity": 4}, "window": {"max_images": 2, "max_audio": 1}}`), 0600)

	t.Run("YAML", func(t *testing.T) {
		cfg, err := Load(yamlPath)
		if err != nil {
			t.Fatalf("Failed to load YAML: %v", err)
		}
		if cfg.Engine != "ollama" || cfg.Model != "llava" {
			t.Errorf("Unexpected engine config: %s/%s", cfg.Engine, cfg.Model)
		}
		if cfg.Cache.ImageCapacity != 8 {
			t.Errorf("Expected image capacity 8, got %d", cfg.Cache.ImageCapacity)
		}
		// Unset fields keep their defaults.
		if cfg.Sampling.MaxTokens == 0 {
			t.Error("Sampling defaults should survive a partial file")
		}
	})

	t.Run("JSON", func(t *testing.T) {
		cfg, err := Load(jsonPath)
		if err != nil {
			t.Fatalf("Failed to load JSON: %v", err)
		}
		if cfg.Engine != "stub" {
			t.Errorf("Expected 'stub', got '%s'", cfg.Engine)
		}
	})

	t.Run("Invalid Extension", func(t *testing.T) {
		txtPath := filepath.Join(tmpDir, "chorus.txt")
		os.WriteFile(txtPath, []byte("engine: stub"), 0600)
		if _, err := Load(txtPath); err == nil {
			t.Error("Expected error for .txt extension")
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		if _, err := Load(filepath.Join(tmpDir, "absent.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Defaults Valid", func(t *testing.T) {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Default config should validate: %v", err)
		}
	})

	t.Run("Zero Cache Capacity", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.ImageCapacity = 0
		if err := cfg.Validate(); !errors.Is(err, media.ErrInvalidCapacity) {
			t.Errorf("Expected ErrInvalidCapacity, got %v", err)
		}
	})

	t.Run("Negative Window", func(t *testing.T) {
		cfg := Default()
		cfg.Window.MaxAudio = -1
		if err := cfg.Validate(); !errors.Is(err, media.ErrInvalidCapacity) {
			t.Errorf("Expected ErrInvalidCapacity, got %v", err)
		}
	})

	t.Run("Fallback", func(t *testing.T) {
		cfg := Default()
		cfg.Engine = "ollama"
		cfg.Fallback = "stub"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Fallback config should validate: %v", err)
		}
		cfg.Fallback = "ollama"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for fallback equal to primary")
		}
	})

	t.Run("Unknown Engine", func(t *testing.T) {
		cfg := Default()
		cfg.Engine = "mystery"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for unknown engine")
		}
	})

	t.Run("Rejected At Load", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "bad.yaml")
		os.WriteFile(path, []byte("cache:\n  image_capacity: -3\n"), 0600)
		if _, err := Load(path); !errors.Is(err, media.ErrInvalidCapacity) {
			t.Errorf("Expected ErrInvalidCapacity, got %v", err)
		}
	})
}
