package checkpoints

import "errors"

var (
	// ErrCorrupt is returned when a snapshot cannot be decoded.
	ErrCorrupt = errors.New("checkpoints: corrupt snapshot")

	// ErrMissingParameter is returned when a snapshot lacks a parameter the model expects.
	ErrMissingParameter = errors.New("checkpoints: missing parameter")

	// ErrShapeMismatch is returned when a snapshot entry has a different shape than the model parameter.
	ErrShapeMismatch = errors.New("checkpoints: shape mismatch")
)
