package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/chorus/internal/config"
	"github.com/felixgeelhaar/chorus/internal/credential"
	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/orchestrate"
	"github.com/felixgeelhaar/chorus/internal/store"
)

func getStore() store.Storage {
	home, _ := os.UserHomeDir()
	chorusDir := filepath.Join(home, ".chorus")
	storeLayer, err := store.NewSQLiteStore(filepath.Join(chorusDir, "chorus.db"))
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	return storeLayer
}

// buildEngine constructs the text engine and the media processor for the
// configured backend. The stub serves both roles; remote engines pair
// with an embedding server when one is configured, otherwise the stub
// processor keeps media flowing locally.
func buildEngine(cfg config.Config, s store.Storage) (engine.TextEngine, engine.Processor, error) {
	creds, err := credential.NewManager()
	if err != nil {
		return nil, nil, err
	}

	eng, err := buildTextEngine(cfg.Engine, cfg, s, creds)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Fallback != "" {
		fallback, ferr := buildTextEngine(cfg.Fallback, cfg, s, creds)
		if ferr != nil {
			return nil, nil, ferr
		}
		eng, err = orchestrate.NewChain(eng, fallback)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.Engine == "stub" && cfg.Fallback == "" {
		stub := eng.(*engine.Stub)
		return stub, stub, nil
	}
	proc, err := buildProcessor(cfg, s, creds)
	if err != nil {
		return nil, nil, err
	}
	return eng, proc, nil
}

func buildTextEngine(name string, cfg config.Config, s store.Storage, creds *credential.Manager) (engine.TextEngine, error) {
	switch name {
	case "stub":
		return engine.NewStub(), nil
	case "ollama":
		return engine.NewOllamaEngine(cfg.Model)
	case "openai":
		stored, _ := s.GetConfig("openai.api_key")
		apiKey, err := creds.ResolveKey("openai", stored)
		if err != nil {
			return nil, err
		}
		baseURL, _ := s.GetConfig("openai.base_url")
		return engine.NewOpenAIEngine(apiKey, baseURL, cfg.Model)
	case "gemini":
		stored, _ := s.GetConfig("gemini.api_key")
		apiKey, err := creds.ResolveKey("gemini", stored)
		if err != nil {
			return nil, err
		}
		return engine.NewGeminiEngine(apiKey, cfg.Model)
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

func buildProcessor(cfg config.Config, s store.Storage, creds *credential.Manager) (engine.Processor, error) {
	embedURL, _ := s.GetConfig("processor.url")
	if embedURL == "" {
		return engine.NewStub(), nil
	}

	var transcriber *engine.Transcriber
	stored, _ := s.GetConfig("openai.api_key")
	if apiKey, err := creds.ResolveKey("openai", stored); err == nil && apiKey != "" {
		baseURL, _ := s.GetConfig("openai.base_url")
		transcriber = engine.NewTranscriber(apiKey, baseURL, "whisper-1")
	}
	return engine.NewRemoteProcessor(embedURL, cfg.Model, transcriber), nil
}
