// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the decoders. Callers match them with errors.Is.
var (
	// Event stream errors
	ErrEndOfStream     = errors.New("sandtrace: end of stream")
	ErrTruncatedStream = errors.New("sandtrace: stream truncated mid-message")
	ErrUnknownAPIIndex = errors.New("sandtrace: unknown api index")
	ErrLengthExceeded  = errors.New("sandtrace: length field exceeds bounds")

	// Signature table errors
	ErrInvalidSignatureTable = errors.New("sandtrace: invalid signature table")

	// Capture analysis errors
	ErrCaptureUnavailable = errors.New("sandtrace: capture unavailable")
	ErrNotHTTPRequest     = errors.New("sandtrace: not an http request")
	ErrNotDNSMessage      = errors.New("sandtrace: not a dns message")

	// Configuration errors
	ErrConfigInvalid = errors.New("sandtrace: invalid configuration")
)
