package engine

import "errors"

var (
	// ErrClosed is returned for any operation on a closed engine.
	ErrClosed = errors.New("engine is closed")

	// ErrKeyRequired is returned when a key is empty.
	ErrKeyRequired = errors.New("key is required")

	// ErrKeyTooLarge is returned when a key exceeds the encodable maximum.
	ErrKeyTooLarge = errors.New("key too large")

	// ErrValueTooLarge is returned when a value exceeds the encodable maximum.
	ErrValueTooLarge = errors.New("value too large")

	// ErrMergeInProgress is returned when a merge is invoked while another
	// one is running.
	ErrMergeInProgress = errors.New("merge already in progress")
)
