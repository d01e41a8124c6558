package domain

import "errors"

// Sentinel errors shared across the storage, cache, and pipeline layers.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrInvalidRule = errors.New("invalid alert rule")
	ErrLockHeld    = errors.New("lock already held")
)
