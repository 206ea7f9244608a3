package stowaway

import "errors"

// Codec errors. Returned errors wrap one of these; match with errors.Is.
var (
	// ErrInvalidArgument is returned when a required input is absent (a nil header or payload).
	ErrInvalidArgument = errors.New("stowaway: invalid argument")

	// ErrPreconditionViolated is returned when the encoder is handed more than MaxHeaders
	// headers, or the decoder is handed a buffer that does not start with the magic byte.
	ErrPreconditionViolated = errors.New("stowaway: precondition violated")

	// ErrSizeExceeded is returned when a header name or value is longer than its length
	// field can encode.
	ErrSizeExceeded = errors.New("stowaway: size exceeded")

	// ErrMalformedPayload is returned when a length-prefixed field runs past the end of
	// the payload.
	ErrMalformedPayload = errors.New("stowaway: malformed payload")
)

// Provider errors.
var (
	// ErrNoWriter is returned when Publish is called on a provider without a writer configured.
	ErrNoWriter = errors.New("stowaway: no writer configured for publishing")

	// ErrNoReader is returned when Subscribe is called on a provider without a reader configured.
	ErrNoReader = errors.New("stowaway: no reader configured for subscribing")

	// ErrClosed is returned when an Embedded provider is used after Close.
	ErrClosed = errors.New("stowaway: provider closed")
)
