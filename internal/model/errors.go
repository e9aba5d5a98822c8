package model

import "errors"

// Validation errors. Returned to clients as InvalidArgument; the server
// never retries them.
var (
	ErrEmptyHeader     = errors.New("empty header")
	ErrHeaderTooShort  = errors.New("header shorter than tag prefix")
	ErrHeaderTooLarge  = errors.New("header exceeds size limit")
	ErrDetailsTooLarge = errors.New("details exceed size limit")
	ErrTagMismatch     = errors.New("declared tag does not match header")
)

// Capacity errors. Returned as ResourceExhausted; clients may retry
// with backoff.
var (
	ErrTooManySubscriptions = errors.New("subscription limit reached")
	ErrIngestBusy           = errors.New("ingestion limit reached")
)

// ErrUnavailable wraps transient backend failures. The server does not
// retry ingestion internally; id idempotency makes client retry safe.
var ErrUnavailable = errors.New("storage unavailable")
