package media

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned by any operation invoked on a disposed
	// model, context, or session.
	ErrDisposed = errors.New("use after dispose")

	// ErrUnsupportedModality is returned when the loaded model lacks
	// vision or audio support for the requested operation. It never
	// poisons the cache.
	ErrUnsupportedModality = errors.New("modality not supported by loaded model")

	// ErrInvalidCapacity rejects non-positive cache or window sizes at
	// construction time.
	ErrInvalidCapacity = errors.New("capacity must be positive")

	// ErrBadFormat marks decode failures: an unsupported MIME type or
	// malformed payload bytes.
	ErrBadFormat = errors.New("unsupported or malformed media format")

	// ErrCapability marks encode or transcribe failures caused by the
	// loaded model lacking the relevant capability, distinct from a
	// format problem with the input itself.
	ErrCapability = errors.New("capability unavailable")
)

// ProcessingError wraps a decode, encode, or transcribe failure with the
// operation and reference it came from. The cache entry for the failing key
// is left unmodified.
type ProcessingError struct {
	Op  string
	Ref string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError wraps err as a ProcessingError for the given operation
// and reference description.
func NewProcessingError(op, ref string, err error) *ProcessingError {
	return &ProcessingError{Op: op, Ref: ref, Err: err}
}
