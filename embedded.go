package stowaway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageIDKey is the metadata key stamped by WithMessageID.
const MessageIDKey = "Message-Id"

// Internal identities for the publish pipeline.
var (
	publishID         = pipz.NewIdentity("stowaway:publish", "Publishes an embedded payload to the transport")
	publishPipelineID = pipz.NewIdentity("stowaway:embedded", "Embedded publish pipeline")
)

// MalformedPolicy decides what Embedded does with a payload that fails extraction.
type MalformedPolicy int

const (
	// PassThrough delivers the payload untouched, without headers.
	PassThrough MalformedPolicy = iota

	// Reject nacks the message and delivers an error Result instead.
	Reject
)

// Embedded wraps a Provider whose transport cannot carry headers. Metadata passed to
// Publish is embedded in the payload, and payloads received by Subscribe have their
// headers extracted back into Message.Metadata and Message.Headers.
type Embedded struct {
	inner     Provider
	capitan   *capitan.Capitan
	pipeline  *pipz.Pipeline[*Outbound]
	strict    bool
	messageID bool
	noMeta    bool
	policy    MalformedPolicy
	closed    atomic.Bool

	tracing        bool
	tracerProvider trace.TracerProvider
	metrics        bool
	meterProvider  metric.MeterProvider
	otel           *otelInstrumentation
}

// EmbeddedOption configures an Embedded provider.
type EmbeddedOption func(*Embedded)

// WithEmbeddedCapitan sets a custom Capitan instance for error and extraction signals.
func WithEmbeddedCapitan(c *capitan.Capitan) EmbeddedOption {
	return func(e *Embedded) {
		e.capitan = c
	}
}

// WithStrict makes Subscribe decode every payload, applying the MalformedPolicy to
// anything that does not decode. Use it when every producer on the transport embeds
// headers. Without it, payloads that do not start with Magic pass through untouched,
// and short ones that do are decoded only if they parse.
func WithStrict() EmbeddedOption {
	return func(e *Embedded) {
		e.strict = true
	}
}

// WithMalformedPolicy sets how undecodable payloads are handled (default PassThrough).
func WithMalformedPolicy(p MalformedPolicy) EmbeddedOption {
	return func(e *Embedded) {
		e.policy = p
	}
}

// WithMessageID stamps a random UUID under MessageIDKey on published messages
// that do not already carry one.
func WithMessageID() EmbeddedOption {
	return func(e *Embedded) {
		e.messageID = true
	}
}

// WithHeadersOnly leaves extracted headers in Message.Headers without converting
// them to Metadata, so nothing is copied out of the payload.
func WithHeadersOnly() EmbeddedOption {
	return func(e *Embedded) {
		e.noMeta = true
	}
}

// WithTracing enables spans for publish and extract. A nil tp uses the global provider.
func WithTracing(tp trace.TracerProvider) EmbeddedOption {
	return func(e *Embedded) {
		e.tracing = true
		e.tracerProvider = tp
	}
}

// WithMetrics enables embed/extract metrics. A nil mp uses the global provider.
func WithMetrics(mp metric.MeterProvider) EmbeddedOption {
	return func(e *Embedded) {
		e.metrics = true
		e.meterProvider = mp
	}
}

// NewEmbedded wraps inner so that metadata travels inside the payload.
//
// Parameters:
//   - inner: header-less transport (io, bolt, nats, redis, kafka)
//   - pipelineOpts: reliability middleware around the transport publish; nil for none
//   - opts: provider configuration
func NewEmbedded(inner Provider, pipelineOpts []Option, opts ...EmbeddedOption) (*Embedded, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidArgument)
	}
	e := &Embedded{inner: inner}
	for _, opt := range opts {
		opt(e)
	}

	instr, err := newOtelInstrumentation(e.tracing, e.tracerProvider, e.metrics, e.meterProvider)
	if err != nil {
		return nil, err
	}
	e.otel = instr

	// Build pipeline: start with terminal, wrap with options
	chain := PublishTo(inner)
	for _, opt := range pipelineOpts {
		chain = opt(chain)
	}
	e.pipeline = pipz.NewPipeline(publishPipelineID, chain)

	return e, nil
}

// PublishTo returns a pipeline stage that publishes an Outbound payload to p without
// native metadata. It is the terminal stage of every Embedded pipeline and can be
// passed to WithFallback.
func PublishTo(p Provider) pipz.Chainable[*Outbound] {
	return pipz.Apply(publishID, func(ctx context.Context, out *Outbound) (*Outbound, error) {
		return out, p.Publish(ctx, out.Payload, nil)
	})
}

// Publish embeds metadata into data and sends the payload through the pipeline.
// Metadata attached to ctx with ContextWithMetadata is embedded too; explicit
// metadata wins on conflicting keys.
// Encoding errors are returned before the transport is touched.
func (e *Embedded) Publish(ctx context.Context, data []byte, metadata Metadata) error {
	if e.closed.Load() {
		return ErrClosed
	}
	ctx, end := e.otel.startSpan(ctx, "stowaway.publish", attribute.Int("body_size", len(data)))

	if inherited := MetadataFromContext(ctx); len(inherited) > 0 {
		merged := copyMetadata(inherited)
		for k, v := range metadata {
			merged[k] = v
		}
		metadata = merged
	}

	if e.messageID {
		if _, exists := metadata[MessageIDKey]; !exists {
			metadata = copyMetadata(metadata)
			metadata[MessageIDKey] = uuid.NewString()
		}
	}

	headers := HeadersFromMetadata(metadata)
	payload, err := EmbedHeaders(headers, data)
	e.otel.recordEmbed(ctx, len(headers), len(payload), err)
	if err != nil {
		e.emitError(ctx, "embed", err, false, nil)
		end(err)
		return err
	}

	_, err = e.pipeline.Process(ctx, &Outbound{Payload: payload, Metadata: metadata})
	if err != nil {
		e.emitError(ctx, "publish", err, false, nil)
	}
	end(err)
	return err
}

// Subscribe returns the wrapped transport's stream with embedded headers extracted.
// Transport errors are forwarded unchanged.
func (e *Embedded) Subscribe(ctx context.Context) <-chan Result[Message] {
	out := make(chan Result[Message])

	if e.closed.Load() {
		go func() {
			out <- NewError[Message](ErrClosed)
			close(out)
		}()
		return out
	}
	in := e.inner.Subscribe(ctx)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case result, ok := <-in:
				if !ok {
					return
				}
				if result.IsSuccess() {
					result = ResultOf[Message](e.decode(ctx, result.Value()))
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// decode extracts headers from msg when its payload carries them.
func (e *Embedded) decode(ctx context.Context, msg Message) (Message, error) {
	// Below MinDetectLen a leading Magic byte is as likely to be plain data as a
	// short embedded payload, so a failed attempt there passes through quietly.
	speculative := false
	if !e.strict && !MayHaveEmbeddedHeaders(msg.Data) {
		if len(msg.Data) < prefixLen || msg.Data[0] != Magic {
			return msg, nil
		}
		speculative = true
	}

	ctx, end := e.otel.startSpan(ctx, "stowaway.extract", attribute.Int("payload_size", len(msg.Data)))
	headers, body, err := ExtractHeaders(msg.Data)
	if err != nil && speculative {
		end(nil)
		return msg, nil
	}
	e.otel.recordExtract(ctx, err)
	end(err)

	if err != nil {
		if e.policy == Reject {
			if msg.Nack != nil {
				if nackErr := msg.Nack(); nackErr != nil {
					e.emitError(ctx, "nack", nackErr, false, nil)
				}
			}
			e.emitError(ctx, "extract", err, true, msg.Data)
			return Message{}, err
		}
		e.emitError(ctx, "extract", err, false, msg.Data)
		return msg, nil
	}

	if !e.noMeta && len(headers) > 0 {
		metadata := copyMetadata(msg.Metadata)
		for _, h := range headers {
			metadata[string(h.LazyName().Bytes())] = string(h.LazyValue().Bytes())
		}
		msg.Metadata = metadata
	}
	msg.Data = body.Bytes()
	msg.Headers = headers

	e.emitExtracted(ctx, len(headers), body.Len())
	return msg, nil
}

// Ping verifies the wrapped transport.
func (e *Embedded) Ping(ctx context.Context) error {
	return e.inner.Ping(ctx)
}

// Close closes the publish pipeline and the wrapped transport.
// Subsequent calls are no-ops.
func (e *Embedded) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var firstErr error
	if e.pipeline != nil {
		firstErr = e.pipeline.Close()
	}
	if err := e.inner.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// emitError emits an error event to ErrorSignal.
func (e *Embedded) emitError(ctx context.Context, operation string, err error, nack bool, raw []byte) {
	ev := Error{
		Operation: operation,
		Err:       err.Error(),
		Nack:      nack,
		Raw:       raw,
	}
	if e.capitan != nil {
		e.capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(ev))
	} else {
		capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(ev))
	}
}

// emitExtracted emits a successful extraction to ExtractedSignal.
func (e *Embedded) emitExtracted(ctx context.Context, headers, bodySize int) {
	if e.capitan != nil {
		e.capitan.Emit(ctx, ExtractedSignal, HeaderCountKey.Field(headers), BodySizeKey.Field(bodySize))
	} else {
		capitan.Emit(ctx, ExtractedSignal, HeaderCountKey.Field(headers), BodySizeKey.Field(bodySize))
	}
}

var _ Provider = (*Embedded)(nil)
