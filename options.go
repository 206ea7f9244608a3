package stowaway

import (
	"time"

	"github.com/zoobzio/pipz"
)

// Internal identities for reliability options.
var (
	retryID          = pipz.NewIdentity("stowaway:retry", "Retries failed publishes")
	backoffID        = pipz.NewIdentity("stowaway:backoff", "Retries publishes with exponential backoff")
	timeoutID        = pipz.NewIdentity("stowaway:timeout", "Enforces publish timeout")
	circuitBreakerID = pipz.NewIdentity("stowaway:circuit-breaker", "Circuit breaker protection")
	rateLimitID      = pipz.NewIdentity("stowaway:rate-limit", "Rate limiting")
	errorHandlerID   = pipz.NewIdentity("stowaway:error-handler", "Error handling")
	fallbackID       = pipz.NewIdentity("stowaway:fallback", "Fallback transports")
)

// Outbound is an encoded payload on its way to the wrapped transport.
type Outbound struct {
	// Payload is the body with headers embedded.
	Payload []byte

	// Metadata is the metadata the payload was built from.
	Metadata Metadata
}

// Option modifies the publish pipeline of an Embedded provider.
// Options wrap the terminal transport publish; the codec runs before the pipeline,
// so retries never re-encode.
type Option func(pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound]

// WithRetry retries failed publishes up to maxAttempts times immediately.
func WithRetry(maxAttempts int) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewRetry(retryID, pipeline, maxAttempts)
	}
}

// WithBackoff retries failed publishes with a delay that starts at baseDelay and
// doubles after each failure.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewBackoff(backoffID, pipeline, maxAttempts, baseDelay)
	}
}

// WithTimeout cancels publishes that take longer than duration.
func WithTimeout(duration time.Duration) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewTimeout(timeoutID, pipeline, duration)
	}
}

// WithCircuitBreaker opens the circuit for recovery after failures consecutive failures.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewCircuitBreaker(circuitBreakerID, pipeline, failures, recovery)
	}
}

// WithRateLimit limits publishes to rate per second with the given burst.
func WithRateLimit(rate float64, burst int) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewRateLimiter(rateLimitID, rate, burst, pipeline)
	}
}

// WithErrorHandler passes publish failures to handler.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Outbound]]) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return pipz.NewHandle(errorHandlerID, pipeline, handler)
	}
}

// WithFallback tries each fallback in order when the wrapped transport fails.
func WithFallback(fallbacks ...pipz.Chainable[*Outbound]) Option {
	return func(pipeline pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		all := append([]pipz.Chainable[*Outbound]{pipeline}, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	}
}

// WithPipeline replaces the publish pipeline entirely.
func WithPipeline(custom pipz.Chainable[*Outbound]) Option {
	return func(_ pipz.Chainable[*Outbound]) pipz.Chainable[*Outbound] {
		return custom
	}
}
