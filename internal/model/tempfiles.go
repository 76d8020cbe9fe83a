package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// tempRegistry tracks temporary files created for inline and buffer media
// payloads so they can all be removed when the model is disposed. Removal
// failures are swallowed; a leftover temp file must never abort disposal.
type tempRegistry struct {
	mu    sync.Mutex
	dir   string
	paths []string
}

func newTempRegistry() (*tempRegistry, error) {
	dir, err := os.MkdirTemp("", "chorus-media-")
	if err != nil {
		return nil, fmt.Errorf("failed to create media temp dir: %w", err)
	}
	return &tempRegistry{dir: dir}, nil
}

// stage writes the payload to a tracked temp file and returns its path.
func (t *tempRegistry) stage(payload []byte, ext string) (string, error) {
	path := filepath.Join(t.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, payload, 0600); err != nil {
		return "", fmt.Errorf("failed to stage media payload: %w", err)
	}

	t.mu.Lock()
	t.paths = append(t.paths, path)
	t.mu.Unlock()
	return path, nil
}

// cleanup removes every staged file and the directory itself. Individual
// failures are ignored.
func (t *tempRegistry) cleanup() {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	for _, p := range paths {
		_ = os.Remove(p)
	}
	_ = os.Remove(t.dir)
}

// count returns the number of files currently staged.
func (t *tempRegistry) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}
