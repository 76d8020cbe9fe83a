// Package config loads and validates the runtime configuration: engine
// selection, cache capacities, window sizes, sampling parameters, and the
// media admission policy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/policy"
)

// Config is the full runtime configuration, loadable from JSON or YAML.
type Config struct {
	Engine       string                `json:"engine" yaml:"engine"`
	Fallback     string                `json:"fallback,omitempty" yaml:"fallback"`
	Model        string                `json:"model" yaml:"model"`
	SystemPrompt string                `json:"system_prompt" yaml:"system_prompt"`
	Cache        CacheConfig           `json:"cache" yaml:"cache"`
	Window       WindowConfig          `json:"window" yaml:"window"`
	Sampling     engine.SamplingConfig `json:"sampling" yaml:"sampling"`
	Policy       policy.Policy         `json:"policy" yaml:"policy"`
	StorePath    string                `json:"store_path" yaml:"store_path"`
	Listen       string                `json:"listen" yaml:"listen"`
}

// CacheConfig sizes the per-modality embedding caches.
type CacheConfig struct {
	ImageCapacity int `json:"image_capacity" yaml:"image_capacity"`
	AudioCapacity int `json:"audio_capacity" yaml:"audio_capacity"`
}

// WindowConfig sizes the per-modality active windows.
type WindowConfig struct {
	MaxImages int `json:"max_images" yaml:"max_images"`
	MaxAudio  int `json:"max_audio" yaml:"max_audio"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Engine:   "stub",
		Cache:    CacheConfig{ImageCapacity: 32, AudioCapacity: 16},
		Window:   WindowConfig{MaxImages: 4, MaxAudio: 1},
		Sampling: engine.DefaultSampling(),
		Policy:   policy.DefaultPolicy,
		Listen:   "127.0.0.1:8419",
	}
}

// Load reads a configuration file (JSON or YAML) and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects capacity misconfiguration up front so that a bad file
// fails at load time rather than at first use.
func (c *Config) Validate() error {
	if c.Cache.ImageCapacity <= 0 {
		return fmt.Errorf("cache.image_capacity %d: %w", c.Cache.ImageCapacity, media.ErrInvalidCapacity)
	}
	if c.Cache.AudioCapacity <= 0 {
		return fmt.Errorf("cache.audio_capacity %d: %w", c.Cache.AudioCapacity, media.ErrInvalidCapacity)
	}
	if c.Window.MaxImages <= 0 {
		return fmt.Errorf("window.max_images %d: %w", c.Window.MaxImages, media.ErrInvalidCapacity)
	}
	if c.Window.MaxAudio <= 0 {
		return fmt.Errorf("window.max_audio %d: %w", c.Window.MaxAudio, media.ErrInvalidCapacity)
	}
	switch c.Engine {
	case "stub", "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	switch c.Fallback {
	case "", "stub", "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("unknown fallback engine %q", c.Fallback)
	}
	if c.Fallback == c.Engine {
		return fmt.Errorf("fallback engine must differ from primary")
	}
	return nil
}
