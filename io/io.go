// Package io provides a stowaway provider for io.Reader/io.Writer.
// Useful for testing, CLI piping, and file-based messaging.
//
// Messages are framed with a 4-byte big-endian length prefix rather than a
// delimiter, since payloads with embedded headers are arbitrary bytes.
package io

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zoobzio/stowaway"
)

// DefaultMaxFrame is the largest frame accepted unless WithMaxFrame says otherwise.
const DefaultMaxFrame = 64 << 20

// ErrFrameTooLarge is returned for frames longer than the configured maximum.
var ErrFrameTooLarge = errors.New("stowaway/io: frame too large")

// Provider implements stowaway.Provider for io.Reader/io.Writer.
type Provider struct {
	reader   io.Reader
	writer   io.Writer
	maxFrame int
	mu       sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithReader sets the io.Reader for subscribing.
func WithReader(r io.Reader) Option {
	return func(p *Provider) {
		p.reader = r
	}
}

// WithWriter sets the io.Writer for publishing.
func WithWriter(w io.Writer) Option {
	return func(p *Provider) {
		p.writer = w
	}
}

// WithMaxFrame sets the largest frame accepted in either direction.
func WithMaxFrame(n int) Option {
	return func(p *Provider) {
		p.maxFrame = n
	}
}

// New creates an io provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		maxFrame: DefaultMaxFrame,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes one length-prefixed frame.
// io streams do not carry metadata; it is ignored. Wrap with stowaway.NewEmbedded to keep it.
func (p *Provider) Publish(_ context.Context, data []byte, _ stowaway.Metadata) error {
	if p.writer == nil {
		return stowaway.ErrNoWriter
	}
	if len(data) > p.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	frame := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	frame = append(frame, data...)

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.writer.Write(frame)
	return err
}

// Subscribe reads length-prefixed frames until EOF.
// A stream ending inside a frame yields io.ErrUnexpectedEOF.
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

		r := bufio.NewReader(p.reader)
		var prefix [4]byte
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			data, err := p.readFrame(r, prefix[:])
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- stowaway.NewError[stowaway.Message](err):
				case <-ctx.Done():
				}
				return
			}

			msg := stowaway.Message{
				Data: data,
				Ack: func() error {
					// No-op for io - data is consumed
					return nil
				},
				Nack: func() error {
					// No-op for io - can't rewind
					return nil
				},
			}

			select {
			case out <- stowaway.NewSuccess(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// readFrame reads one frame; io.EOF only on a clean frame boundary.
func (p *Provider) readFrame(r io.Reader, prefix []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix)
	if uint64(n) > uint64(p.maxFrame) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// Ping reports whether a reader or writer is configured.
func (p *Provider) Ping(_ context.Context) error {
	if p.reader == nil && p.writer == nil {
		return stowaway.ErrNoWriter
	}
	return nil
}

// Close is a no-op for io provider.
// The caller is responsible for closing the underlying reader/writer.
func (p *Provider) Close() error {
	return nil
}
