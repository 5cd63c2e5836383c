package training

import "errors"

var (
	// ErrContractViolation reports a missing collaborator: a classifier
	// requested without its model, optimizer or loss, a two-domain run without
	// a discriminator, or a phase without a loader.
	ErrContractViolation = errors.New("training: contract violation")

	// ErrNumericDegeneracy reports a non-finite validation loss.
	ErrNumericDegeneracy = errors.New("training: non-finite loss")
)
