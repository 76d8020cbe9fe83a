package store

import "time"

// SessionRecord is the persisted shape of one conversation.
type SessionRecord struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Engine    string
	Model     string
	Metadata  map[string]string
}

// TurnRecord is one persisted transcript entry. Media attachments are
// stored by count plus their cache keys; the embeddings themselves live
// in the media table.
type TurnRecord struct {
	ID        int64
	SessionID string
	Role      string
	Text      string
	Images    int
	Audio     int
	CreatedAt time.Time
}

// MediaRecord is a persisted embedding, keyed by its cache key so a
// restarted process can recognize already-processed media.
type MediaRecord struct {
	Key        string
	Modality   string
	OwnerID    string
	Transcript string
	Confidence float32
	CreatedAt  time.Time
}

// SimilarMedia is a FindSimilar result.
type SimilarMedia struct {
	Record     MediaRecord
	Similarity float32
}

// Storage defines the interface for persistence.
type Storage interface {
	// Session management
	CreateSession(rec *SessionRecord) error
	GetSession(id string) (*SessionRecord, error)
	UpdateSession(rec *SessionRecord) error
	ListSessions() ([]*SessionRecord, error)
	DeleteSession(id string) error

	// Transcript management
	AppendTurn(rec *TurnRecord) error
	ListTurns(sessionID string) ([]*TurnRecord, error)
	// ClearTurns deletes a session's turns; system entries survive when
	// keepSystem is set.
	ClearTurns(sessionID string, keepSystem bool) error

	// Embedding persistence
	SaveEmbedding(rec *MediaRecord, vector []float32) error
	GetEmbedding(key string) (*MediaRecord, []float32, error)
	FindSimilar(vector []float32, limit int) ([]SimilarMedia, error)

	// Configuration management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
