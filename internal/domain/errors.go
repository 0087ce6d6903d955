package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrValidation         = errors.New("validation error")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrRateLimitExhausted = errors.New("rate limit exhausted")
	ErrMaxTurnsExceeded   = errors.New("max turns exceeded")
	ErrToolFailed         = errors.New("tool error")
	ErrModel              = errors.New("model error")
	ErrSlotNotCommitted   = errors.New("result slot not committed")
	ErrInternal           = errors.New("internal error")
)
