package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrLockHeld         = errors.New("lock already held")
	ErrCycleInFlight    = errors.New("cycle already in flight")
	ErrNotSubmitted     = errors.New("proposal not submitted")
	ErrAlreadyExecuted  = errors.New("proposal already executed")
	ErrStrategyUnknown  = errors.New("strategy unknown to ledger")
	ErrMalformedPayload = errors.New("malformed external payload")
)
