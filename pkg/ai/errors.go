package ai

import "errors"

var (
	// ErrGenerationFailed wraps every provider failure: transport errors,
	// non-2xx responses and undecodable bodies.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUnknownProvider is returned by NewGenerator for unsupported names.
	ErrUnknownProvider = errors.New("unknown generation provider")
)
