package layers

import "errors"

// ErrUnknownActivation is returned when an activation name has no layer type.
var ErrUnknownActivation = errors.New("layers: unknown activation")
