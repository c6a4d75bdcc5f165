package store

import "errors"

var (
	// ErrStorageUnavailable wraps every failure reported by a backend.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidConfiguration is returned for unusable store options.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
