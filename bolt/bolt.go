// Package bolt provides a stowaway provider for BoltDB (bbolt).
// Each topic is a bucket; records use sequential big-endian keys, so cursor
// order is publish order.
package bolt

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/zoobzio/stowaway"
	"go.etcd.io/bbolt"
)

// Provider implements stowaway.Provider for BoltDB.
type Provider struct {
	db           *bbolt.DB
	bucket       string
	pollInterval time.Duration
	batchSize    int

	// pending holds keys delivered but not yet acked or nacked.
	mu      sync.Mutex
	pending map[uint64]struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithDB sets the BoltDB connection.
func WithDB(db *bbolt.DB) Option {
	return func(p *Provider) {
		p.db = db
	}
}

// WithPollInterval sets how often to poll for new messages.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// WithBatchSize sets how many messages to fetch per poll.
func WithBatchSize(n int) Option {
	return func(p *Provider) {
		p.batchSize = n
	}
}

// New creates a BoltDB provider for the given bucket (topic).
func New(bucket string, opts ...Option) *Provider {
	p := &Provider{
		bucket:       bucket,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
		pending:      make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores a message in the bucket.
// BoltDB records carry no metadata; it is ignored. Wrap with stowaway.NewEmbedded to keep it.
func (p *Provider) Publish(_ context.Context, data []byte, _ stowaway.Metadata) error {
	if p.db == nil {
		return stowaway.ErrNoWriter
	}

	return p.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(p.bucket))
		if err != nil {
			return err
		}

		id, err := b.NextSequence()
		if err != nil {
			return err
		}

		return b.Put(encodeKey(id), data)
	})
}

type record struct {
	id   uint64
	data []byte
}

// Subscribe polls the bucket for messages. A message is not redelivered while
// it is pending; Nack makes it eligible again on the next poll.
func (p *Provider) Subscribe(ctx context.Context) <-chan stowaway.Result[stowaway.Message] {
	out := make(chan stowaway.Result[stowaway.Message])

	if p.db == nil {
		go func() {
			out <- stowaway.NewError[stowaway.Message](stowaway.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				records, err := p.fetch()
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

				for i, rec := range records {
					id := rec.id
					msg := stowaway.Message{
						Data: rec.data,
						Ack: func() error {
							defer p.release(id)
							return p.db.Update(func(tx *bbolt.Tx) error {
								b := tx.Bucket([]byte(p.bucket))
								if b == nil {
									return nil
								}
								return b.Delete(encodeKey(id))
							})
						},
						Nack: func() error {
							// Record stays; it is picked up again on the next poll.
							p.release(id)
							return nil
						},
					}

					select {
					case out <- stowaway.NewSuccess(msg):
					case <-ctx.Done():
						// Nothing from here on was delivered.
						for _, r := range records[i:] {
							p.release(r.id)
						}
						return
					}
				}
			}
		}
	}()

	return out
}

// fetch claims up to batchSize records that are not already pending.
func (p *Provider) fetch() ([]record, error) {
	var records []record

	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.bucket))
		if b == nil {
			return nil
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		c := b.Cursor()
		for k, v := c.First(); k != nil && len(records) < p.batchSize; k, v = c.Next() {
			id := binary.BigEndian.Uint64(k)
			if _, busy := p.pending[id]; busy {
				continue
			}
			// Values are only valid during the transaction.
			data := make([]byte, len(v))
			copy(data, v)
			records = append(records, record{id: id, data: data})
			p.pending[id] = struct{}{}
		}
		return nil
	})

	return records, err
}

func (p *Provider) release(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Pending returns the number of delivered messages awaiting Ack or Nack.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Ping verifies the database is open.
func (p *Provider) Ping(_ context.Context) error {
	if p.db == nil {
		return stowaway.ErrNoWriter
	}
	return p.db.View(func(*bbolt.Tx) error { return nil })
}

// Close releases BoltDB resources.
func (p *Provider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func encodeKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
