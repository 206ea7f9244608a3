// Package kafka provides a stowaway provider for Apache Kafka.
//
// By default messages are written without Kafka record headers, which is what
// brokers and clients older than protocol 0.11 understand. Wrap the provider
// with stowaway.NewEmbedded to carry metadata inside the value instead.
package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/zoobzio/stowaway"
)

// Writer defines the interface for Kafka message production.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader defines the interface for Kafka message consumption.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dialer opens a connection to a broker; *kafka.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (*kafka.Conn, error)
}

// Provider implements stowaway.Provider for Kafka.
type Provider struct {
	writer        Writer
	reader        Reader
	dialer        Dialer
	brokers       []string
	topic         string
	nativeHeaders bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithWriter sets the Kafka writer for publishing.
func WithWriter(w Writer) Option {
	return func(p *Provider) {
		p.writer = w
	}
}

// WithReader sets the Kafka reader for subscribing.
func WithReader(r Reader) Option {
	return func(p *Provider) {
		p.reader = r
	}
}

// WithBrokers sets the broker addresses Ping dials.
func WithBrokers(brokers ...string) Option {
	return func(p *Provider) {
		p.brokers = brokers
	}
}

// WithDialer sets the dialer used by Ping (default kafka.DefaultDialer).
func WithDialer(d Dialer) Option {
	return func(p *Provider) {
		p.dialer = d
	}
}

// WithNativeHeaders writes metadata as Kafka record headers.
// Only use it when every broker and consumer on the topic supports headers.
func WithNativeHeaders() Option {
	return func(p *Provider) {
		p.nativeHeaders = true
	}
}

// New creates a Kafka provider for the given topic.
func New(topic string, opts ...Option) *Provider {
	p := &Provider{
		topic:  topic,
		dialer: kafka.DefaultDialer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes data as the record value.
// Metadata is dropped unless WithNativeHeaders is set.
func (p *Provider) Publish(ctx context.Context, data []byte, metadata stowaway.Metadata) error {
	if p.writer == nil {
		return stowaway.ErrNoWriter
	}

	msg := kafka.Message{
		Topic: p.topic,
		Value: data,
	}

	if p.nativeHeaders && len(metadata) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(metadata))
		for k, v := range metadata {
			msg.Headers = append(msg.Headers, kafka.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}

	return p.writer.WriteMessages(ctx, msg)
}

// Subscribe returns a stream of records from Kafka.
// Record headers, when a producer sent any, are exposed as metadata.
func (p *Provider) Subscribe(ctx context.Context) <-chan stowaway.Result[stowaway.Message] {
	out := make(chan stowaway.Result[stowaway.Message])

	if p.reader == nil {
		go func() {
			out <- stowaway.NewError[stowaway.Message](stowaway.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := p.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- stowaway.NewError[stowaway.Message](err):
				case <-ctx.Done():
					return
				}
				continue
			}

			// Capture msg for closure
			record := msg

			var metadata stowaway.Metadata
			if len(msg.Headers) > 0 {
				metadata = make(stowaway.Metadata, len(msg.Headers))
				for _, h := range msg.Headers {
					metadata[h.Key] = string(h.Value)
				}
			}

			m := stowaway.Message{
				Data:     msg.Value,
				Metadata: metadata,
				Ack: func() error {
					return p.reader.CommitMessages(ctx, record)
				},
				Nack: func() error {
					// Kafka: don't commit = message will be redelivered on next consumer
					return nil
				},
			}

			select {
			case out <- stowaway.NewSuccess(m):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Ping dials each configured broker. Without brokers it only checks that a
// writer or reader is configured.
func (p *Provider) Ping(ctx context.Context) error {
	if p.writer == nil && p.reader == nil {
		return stowaway.ErrNoWriter
	}
	for _, addr := range p.brokers {
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		if err := conn.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases Kafka resources.
func (p *Provider) Close() error {
	var firstErr error
	if p.writer != nil {
		if err := p.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.reader != nil {
		if err := p.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
