package domain

import "errors"

// Registration-time errors. They reach the caller that tried to build a
// monitor; every other failure is turned into an Outcome.
var (
	ErrUnsupportedProtocolType = errors.New("unsupported protocol type")
	ErrConfiguration           = errors.New("configuration error")
)

// ErrProbeDeferred is returned by a probe whose pending request was carried
// over to the next attempt. The attempt reports no observation.
var ErrProbeDeferred = errors.New("probe deferred to next attempt")
