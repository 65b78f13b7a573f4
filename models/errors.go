package models

import "errors"

var (
	// ErrInvalidParameter is returned for parameters rejected at the configuration boundary.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNonArbitrageFree is returned when the up probability falls outside (0,1).
	ErrNonArbitrageFree = errors.New("non-arbitrage-free probability")
	// ErrNumericMismatch is returned when a transition target cannot be matched to exactly one level.
	ErrNumericMismatch = errors.New("numeric mismatch")
	// ErrSamplingFailure is returned when a transition row is not a probability distribution.
	ErrSamplingFailure = errors.New("sampling failure")
)
