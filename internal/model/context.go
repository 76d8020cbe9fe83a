package model

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/observe"
	"github.com/felixgeelhaar/chorus/internal/window"
)

// Context scopes one generation context over a shared model: it owns the
// bounded active windows of embeddings eligible for the next generation
// call, and holds a non-owning handle to the model whose caches it resolves
// through. Disposing a context clears its windows and never touches the
// shared caches.
type Context struct {
	model    *Model
	windows  *window.Manager
	disposed bool
}

// NewContext creates a context with the given per-modality window bounds.
func (m *Model) NewContext(maxImages, maxAudio int) (*Context, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	w, err := window.NewManager(maxImages, maxAudio)
	if err != nil {
		return nil, err
	}
	return &Context{model: m, windows: w}, nil
}

func (c *Context) checkLive() error {
	if c.disposed {
		return fmt.Errorf("context: %w", media.ErrDisposed)
	}
	return c.model.checkLive()
}

// Process resolves the reference through the model's cache without
// admitting it into a window. Callers that need turn-level atomicity
// resolve every reference first and admit afterwards.
func (c *Context) Process(ctx context.Context, ref media.Ref) (*media.Embedding, error) {
	if err := c.checkLive(); err != nil {
		return nil, err
	}
	var e *media.Embedding
	var err error
	switch ref.Modality {
	case media.Image:
		e, err = c.model.ProcessImage(ctx, ref)
	case media.Audio:
		e, err = c.model.ProcessAudio(ctx, ref)
	default:
		err = fmt.Errorf("unknown modality %q", ref.Modality)
	}
	if err != nil {
		c.model.obs.Events().PublishWithData(observe.EventMediaFailed, "", map[string]interface{}{
			"ref":   ref.Describe(),
			"error": err.Error(),
		})
		return nil, err
	}
	return e, nil
}

// Admit appends the embedding to the back of its modality window, evicting
// the oldest entry when full.
func (c *Context) Admit(mod media.Modality, e *media.Embedding) {
	if c.disposed {
		return
	}
	c.windows.Admit(mod, e)
	c.model.obs.Events().PublishWithData(observe.EventWindowAdmit, "", map[string]interface{}{
		"modality": string(mod),
		"owner":    e.OwnerID,
	})
}

// Resolve is Process followed by Admit, for callers without multi-item
// atomicity requirements.
func (c *Context) Resolve(ctx context.Context, ref media.Ref) (*media.Embedding, error) {
	e, err := c.Process(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.Admit(ref.Modality, e)
	return e, nil
}

// Active returns the window contents for the modality in admission order.
func (c *Context) Active(mod media.Modality) []*media.Embedding {
	return c.windows.Active(mod)
}

// WindowLen returns the current window size for the modality.
func (c *Context) WindowLen(mod media.Modality) int {
	return c.windows.Len(mod)
}

// Clear empties both windows. The model's caches are unaffected.
func (c *Context) Clear() {
	c.windows.Clear()
}

// Model returns the model this context resolves through.
func (c *Context) Model() *Model {
	return c.model
}

// Dispose clears the windows and marks the context unusable. It never
// evicts from the shared caches, and it is idempotent.
func (c *Context) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	c.windows.Clear()
}
