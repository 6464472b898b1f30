package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTransient         = errors.New("transient upstream failure")
	ErrMalformed         = errors.New("malformed upstream payload")
	ErrUnavailable       = errors.New("snapshot unavailable")
	ErrSafetyDegraded    = errors.New("safety oracle degraded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExecutionRejected = errors.New("execution rejected")
	ErrNotFilled         = errors.New("order not filled")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnknownCommand    = errors.New("unknown command")
)
