// Package window maintains the per-context "active window": the bounded,
// ordered set of embeddings eligible for the next generation call. A window
// manager is owned by exactly one context and is never shared, so it needs
// no internal locking.
package window

import (
	"fmt"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// Manager holds one bounded FIFO window per modality. Admission appends to
// the back; when a window is full the oldest admitted entry is evicted
// first, independent of how recently it was used. Entries reference cache-
// owned embeddings; eviction here never touches the cache.
type Manager struct {
	images    []*media.Embedding
	audio     []*media.Embedding
	maxImages int
	maxAudio  int
}

// NewManager creates a window manager with the given per-modality bounds.
func NewManager(maxImages, maxAudio int) (*Manager, error) {
	if maxImages <= 0 {
		return nil, fmt.Errorf("image window: %w (got %d)", media.ErrInvalidCapacity, maxImages)
	}
	if maxAudio <= 0 {
		return nil, fmt.Errorf("audio window: %w (got %d)", media.ErrInvalidCapacity, maxAudio)
	}
	return &Manager{maxImages: maxImages, maxAudio: maxAudio}, nil
}

// Admit appends the embedding to the back of its modality window, evicting
// the oldest entry first when the window is at capacity. Re-admitting the
// same embedding appends a second reference; deduplication is the caller's
// concern.
func (m *Manager) Admit(mod media.Modality, e *media.Embedding) {
	switch mod {
	case media.Image:
		m.images = admit(m.images, e, m.maxImages)
	case media.Audio:
		m.audio = admit(m.audio, e, m.maxAudio)
	}
}

func admit(win []*media.Embedding, e *media.Embedding, max int) []*media.Embedding {
	for len(win) >= max {
		win = win[1:]
	}
	return append(win, e)
}

// Active returns the window contents for the modality in admission order.
// The returned slice is a copy.
func (m *Manager) Active(mod media.Modality) []*media.Embedding {
	var src []*media.Embedding
	switch mod {
	case media.Image:
		src = m.images
	case media.Audio:
		src = m.audio
	}
	out := make([]*media.Embedding, len(src))
	copy(out, src)
	return out
}

// Len returns the current window size for the modality.
func (m *Manager) Len(mod media.Modality) int {
	switch mod {
	case media.Image:
		return len(m.images)
	case media.Audio:
		return len(m.audio)
	}
	return 0
}

// Clear empties both modality windows. Cached embeddings upstream are
// unaffected.
func (m *Manager) Clear() {
	m.images = nil
	m.audio = nil
}
