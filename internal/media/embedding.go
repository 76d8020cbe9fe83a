package media

import "time"

// Metadata records how an embedding was produced and the geometry of the
// source media.
type Metadata struct {
	ProcessedAt time.Time     `json:"processed_at"`
	Encoder     string        `json:"encoder"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	SampleRate  int           `json:"sample_rate,omitempty"`
	Channels    int           `json:"channels,omitempty"`
}

// Embedding is the memoized artifact derived from one media item. It is
// created once per distinct cache key and immutable after creation; the cache
// retains it strongly up to capacity, and any number of context windows may
// co-reference it afterwards.
type Embedding struct {
	// Vector is the fixed-dimension encoding of the media content.
	Vector []float32
	// OwnerID is the stable identity of the source media: the explicit
	// reference ID when one was given, otherwise the resolved cache key.
	OwnerID string
	// Transcript and Confidence are set only for audio processed with
	// transcript generation enabled. Confidence is in [0, 1].
	Transcript string
	Confidence float32
	Meta       Metadata
}

// Dimensions is the length of the embedding vector. Deriving it from the
// vector keeps it impossible for the two to disagree.
func (e *Embedding) Dimensions() int {
	return len(e.Vector)
}
