package pipeline

import "errors"

var (
	// ErrEmptyText means nothing speakable survived cleanup.
	ErrEmptyText = errors.New("no speakable text in request")

	// ErrTextTooLong means the request exceeds the configured limit.
	ErrTextTooLong = errors.New("text exceeds maximum length")

	// ErrStorageFull means eviction could not free enough space for
	// the estimated artifact size.
	ErrStorageFull = errors.New("storage full, could not free enough space")

	// ErrSynthesisFailed wraps a part that exhausted its retries.
	ErrSynthesisFailed = errors.New("synthesis failed")
)
