package session

import "errors"

// Expected business outcomes are typed values so handlers can map them to
// client-visible statuses; anything else propagates as a wrapped fault.
var (
	ErrNotFound          = errors.New("session not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrExternalService   = errors.New("external service unavailable")
)
