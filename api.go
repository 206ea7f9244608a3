// Package stowaway embeds message headers inside the payload itself, for transports
// whose wire format has no header support.
//
// A payload with embedded headers is laid out as
//
//	0xFF | n(1) | [ nameLen(1) name valueLen(4, big-endian) value ]... | body
//
// EmbedHeaders builds such a payload, MayHaveEmbeddedHeaders cheaply tests whether a
// payload is worth decoding, and ExtractHeaders splits it back into headers and body
// without copying.
//
// On top of the codec, Embedded wraps any Provider that can only move raw bytes
// (io streams, bbolt, core NATS, Redis lists, header-less Kafka) so that message
// Metadata survives the trip.
package stowaway

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Message represents a message received from a broker with acknowledgment controls.
// Ack confirms successful processing; Nack signals failure and typically triggers redelivery.
type Message struct {
	// Data is the message body.
	// For messages decoded by Embedded this is a view into the received payload.
	Data []byte

	// Metadata contains message headers/attributes.
	Metadata Metadata

	// Headers holds the embedded headers in wire order, still in view form.
	// Nil when the payload carried no embedded headers.
	Headers []*Header

	// Ack acknowledges successful processing.
	Ack func() error

	// Nack signals processing failure.
	Nack func() error
}

// Provider defines the interface for message transports.
// Header-less transports in this module ignore metadata; wrap them with NewEmbedded.
type Provider interface {
	// Publish sends raw bytes with metadata to the transport.
	Publish(ctx context.Context, data []byte, metadata Metadata) error

	// Subscribe returns a stream of messages from the transport.
	// The channel is closed when ctx is done or the transport is exhausted.
	Subscribe(ctx context.Context) <-chan Result[Message]

	// Ping verifies transport connectivity.
	Ping(ctx context.Context) error

	// Close releases transport resources.
	Close() error
}

// Signals and keys for observability.
// stowaway never logs; hook these signals to log or alert.
var (
	// ErrorSignal is emitted when an embedding or extraction fails inside Embedded.
	ErrorSignal = capitan.NewSignal("stowaway.error", "Stowaway operational error")

	// ErrorKey extracts Error from events on ErrorSignal.
	ErrorKey = capitan.NewKey[Error]("error", "stowaway.Error")

	// ExtractedSignal is emitted for every message whose headers were extracted.
	ExtractedSignal = capitan.NewSignal("stowaway.extracted", "Embedded headers extracted")

	// HeaderCountKey carries the number of extracted headers on ExtractedSignal.
	HeaderCountKey = capitan.NewKey[int]("headers", "int")

	// BodySizeKey carries the body length on ExtractedSignal.
	BodySizeKey = capitan.NewKey[int]("body_size", "int")
)

// Error represents an operational error.
type Error struct {
	// Operation is the operation that failed: "embed", "publish", "extract", "nack" or,
	// from the redis transport, "requeue".
	Operation string `json:"operation"`

	// Err is the error message.
	Err string `json:"error"`

	// Nack is true if the message was nack'd for redelivery.
	Nack bool `json:"nack"`

	// Raw contains the original payload, populated for extract and requeue errors.
	Raw []byte `json:"raw,omitempty"`
}
