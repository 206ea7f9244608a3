// Package redis provides a stowaway provider for Redis lists.
// Publish appends with RPUSH and Subscribe pops with BLPOP, giving a FIFO work
// queue whose entries are raw bytes.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/stowaway"
)

// Provider implements stowaway.Provider for a Redis list.
type Provider struct {
	client  *redis.Client
	capitan *capitan.Capitan
	key     string
	block   time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets the Redis client.
func WithClient(c *redis.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithCapitan sets the Capitan instance that receives requeue failures on
// stowaway.ErrorSignal. Defaults to the global instance.
func WithCapitan(c *capitan.Capitan) Option {
	return func(p *Provider) {
		p.capitan = c
	}
}

// WithBlock sets how long each BLPOP waits before checking for cancellation.
func WithBlock(d time.Duration) Option {
	return func(p *Provider) {
		p.block = d
	}
}

// New creates a Redis provider for the given list key.
func New(key string, opts ...Option) *Provider {
	p := &Provider{
		key:   key,
		block: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends raw bytes to the list.
// List entries carry no metadata; it is ignored. Wrap with stowaway.NewEmbedded to keep it.
func (p *Provider) Publish(ctx context.Context, data []byte, _ stowaway.Metadata) error {
	if p.client == nil {
		return stowaway.ErrNoWriter
	}
	return p.client.RPush(ctx, p.key, data).Err()
}

// Subscribe pops entries from the head of the list.
// Popping removes the entry, so Ack is a no-op; Nack pushes it back to the head.
func (p *Provider) Subscribe(ctx context.Context) <-chan stowaway.Result[stowaway.Message] {
	out := make(chan stowaway.Result[stowaway.Message])

	if p.client == nil {
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

			res, err := p.client.BLPop(ctx, p.block, p.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
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
			if len(res) != 2 {
				continue
			}

			data := []byte(res[1])
			client := p.client
			key := p.key

			msg := stowaway.Message{
				Data: data,
				Ack: func() error {
					return nil
				},
				Nack: func() error {
					// Use Background context: requeue should succeed even if subscription context is cancelled
					return client.LPush(context.Background(), key, data).Err()
				},
			}

			select {
			case out <- stowaway.NewSuccess(msg):
			case <-ctx.Done():
				// Popped but never delivered; put it back.
				if err := client.LPush(context.Background(), key, data).Err(); err != nil {
					p.emitError(ctx, err, data)
				}
				return
			}
		}
	}()

	return out
}

// emitError reports a message that could not be put back on the list.
// The payload travels in Raw so it can still be recovered.
func (p *Provider) emitError(ctx context.Context, err error, raw []byte) {
	ev := stowaway.Error{
		Operation: "requeue",
		Err:       err.Error(),
		Raw:       raw,
	}
	ctx = context.WithoutCancel(ctx)
	if p.capitan != nil {
		p.capitan.Emit(ctx, stowaway.ErrorSignal, stowaway.ErrorKey.Field(ev))
	} else {
		capitan.Emit(ctx, stowaway.ErrorSignal, stowaway.ErrorKey.Field(ev))
	}
}

// Ping verifies Redis connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return stowaway.ErrNoWriter
	}
	return p.client.Ping(ctx).Err()
}

// Close releases Redis resources.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
