package documents

import "errors"

// Failure classes surfaced by the pipeline. Handlers map them to HTTP
// statuses; everything else is treated as a store failure.
var (
	ErrValidation        = errors.New("documents: invalid input")
	ErrConflict          = errors.New("documents: document already exists")
	ErrNotFound          = errors.New("documents: document not found")
	ErrStore             = errors.New("documents: store failure")
	ErrEmbedder          = errors.New("documents: embedding failure")
	ErrDimensionMismatch = errors.New("documents: embedding dimension mismatch")
)

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
