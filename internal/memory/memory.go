// Package memory persists resolved embeddings across process restarts and
// finds previously seen media similar to a new embedding. It is a thin
// recall layer over the store's vector table; the in-process embedding
// cache stays authoritative within one run.
package memory

import (
	"context"

	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/store"
)

// Memory records embeddings and retrieves similar ones.
type Memory interface {
	// Remember persists an embedding under its owner ID.
	Remember(ctx context.Context, mod media.Modality, e *media.Embedding) error

	// Similar returns the stored embeddings closest to the vector, best
	// first.
	Similar(ctx context.Context, vector []float32, limit int) ([]store.SimilarMedia, error)
}

// StoreMemory implements Memory on the SQLite store.
type StoreMemory struct {
	st store.Storage
}

func New(st store.Storage) *StoreMemory {
	return &StoreMemory{st: st}
}

func (m *StoreMemory) Remember(ctx context.Context, mod media.Modality, e *media.Embedding) error {
	return m.st.SaveEmbedding(&store.MediaRecord{
		Key:        e.OwnerID,
		Modality:   string(mod),
		OwnerID:    e.OwnerID,
		Transcript: e.Transcript,
		Confidence: e.Confidence,
		CreatedAt:  e.Meta.ProcessedAt,
	}, e.Vector)
}

func (m *StoreMemory) Similar(ctx context.Context, vector []float32, limit int) ([]store.SimilarMedia, error) {
	return m.st.FindSimilar(vector, limit)
}
