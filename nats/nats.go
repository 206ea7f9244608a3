// Package nats provides a stowaway provider for core NATS subjects.
package nats

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zoobzio/stowaway"
)

// DefaultPingTimeout bounds Ping when the caller's context has no deadline.
const DefaultPingTimeout = 5 * time.Second

// Provider implements stowaway.Provider for core NATS.
type Provider struct {
	conn    *nats.Conn
	subject string
	queue   string
	wait    time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Option configures a Provider.
type Option func(*Provider)

// WithConn sets the NATS connection.
func WithConn(c *nats.Conn) Option {
	return func(p *Provider) {
		p.conn = c
	}
}

// WithQueue subscribes as a member of a queue group, so each message goes to one member.
func WithQueue(group string) Option {
	return func(p *Provider) {
		p.queue = group
	}
}

// WithWait sets how long each receive blocks before checking for cancellation.
func WithWait(d time.Duration) Option {
	return func(p *Provider) {
		p.wait = d
	}
}

// New creates a NATS provider for the given subject.
func New(subject string, opts ...Option) *Provider {
	p := &Provider{
		subject: subject,
		wait:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends raw bytes to the subject.
// Metadata is not sent as NATS headers, so subjects shared with header-less
// clients and servers keep working; wrap with stowaway.NewEmbedded to carry it.
func (p *Provider) Publish(_ context.Context, data []byte, _ stowaway.Metadata) error {
	if p.conn == nil {
		return stowaway.ErrNoWriter
	}
	return p.conn.Publish(p.subject, data)
}

// Subscribe registers the subscription before returning and streams its messages.
// Core NATS does not persist; only messages published after Subscribe are seen.
func (p *Provider) Subscribe(ctx context.Context) <-chan stowaway.Result[stowaway.Message] {
	out := make(chan stowaway.Result[stowaway.Message])

	if p.conn == nil {
		go func() {
			out <- stowaway.NewError[stowaway.Message](stowaway.ErrNoReader)
			close(out)
		}()
		return out
	}

	var (
		sub *nats.Subscription
		err error
	)
	if p.queue != "" {
		sub, err = p.conn.QueueSubscribeSync(p.subject, p.queue)
	} else {
		sub, err = p.conn.SubscribeSync(p.subject)
	}
	if err != nil {
		go func() {
			out <- stowaway.NewError[stowaway.Message](err)
			close(out)
		}()
		return out
	}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	go func() {
		defer close(out)
		defer p.drop(sub)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := sub.NextMsg(p.wait)
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
					return
				}
				select {
				case out <- stowaway.NewError[stowaway.Message](err):
				case <-ctx.Done():
					return
				}
				continue
			}

			m := stowaway.Message{
				Data: msg.Data,
				Ack: func() error {
					// NATS core: no ack needed
					return nil
				},
				Nack: func() error {
					// NATS core: no nack mechanism
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

// drop unsubscribes sub and forgets it.
func (p *Provider) drop(sub *nats.Subscription) {
	_ = sub.Unsubscribe()
	p.mu.Lock()
	p.subs = slices.DeleteFunc(p.subs, func(s *nats.Subscription) bool { return s == sub })
	p.mu.Unlock()
}

// Subscriptions returns the number of live subscriptions.
func (p *Provider) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Ping verifies NATS connectivity with a server round trip.
// Without a deadline on ctx, DefaultPingTimeout applies.
func (p *Provider) Ping(ctx context.Context) error {
	if p.conn == nil {
		return stowaway.ErrNoWriter
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultPingTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

// Close unsubscribes and closes the connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
