package benchmarks

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/stowaway"
)

// mockProvider is a minimal provider for benchmarking.
type mockProvider struct {
	publishCount int
	subCh        chan stowaway.Result[stowaway.Message]
}

func (m *mockProvider) Publish(_ context.Context, _ []byte, _ stowaway.Metadata) error {
	m.publishCount++
	return nil
}

func (m *mockProvider) Subscribe(_ context.Context) <-chan stowaway.Result[stowaway.Message] {
	if m.subCh != nil {
		return m.subCh
	}
	ch := make(chan stowaway.Result[stowaway.Message])
	close(ch)
	return ch
}

func (*mockProvider) Ping(_ context.Context) error {
	return nil
}

func (*mockProvider) Close() error {
	return nil
}

func benchMetadata(n int) stowaway.Metadata {
	m := make(stowaway.Metadata, n)
	for i := 0; i < n; i++ {
		m["header-"+strconv.Itoa(i)] = "value-" + strconv.Itoa(i)
	}
	return m
}

func newEmbedded(b *testing.B, provider stowaway.Provider, opts []stowaway.Option) *stowaway.Embedded {
	b.Helper()
	c := capitan.New()
	b.Cleanup(c.Shutdown)

	e, err := stowaway.NewEmbedded(provider, opts, stowaway.WithEmbeddedCapitan(c))
	if err != nil {
		b.Fatalf("NewEmbedded failed: %v", err)
	}
	return e
}

// BenchmarkEmbedded_Publish measures embedding plus transport publish.
func BenchmarkEmbedded_Publish(b *testing.B) {
	e := newEmbedded(b, &mockProvider{}, nil)
	metadata := benchMetadata(4)
	body := []byte(`{"id":"bench-001","value":"test"}`)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = e.Publish(ctx, body, metadata)
	}
}

// BenchmarkEmbedded_PublishWithRetry measures publish with the retry stage.
func BenchmarkEmbedded_PublishWithRetry(b *testing.B) {
	e := newEmbedded(b, &mockProvider{}, []stowaway.Option{stowaway.WithRetry(3)})
	metadata := benchMetadata(4)
	body := []byte("body")
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = e.Publish(ctx, body, metadata)
	}
}

// BenchmarkEmbedded_PublishWithTimeout measures publish with the timeout stage.
func BenchmarkEmbedded_PublishWithTimeout(b *testing.B) {
	e := newEmbedded(b, &mockProvider{}, []stowaway.Option{stowaway.WithTimeout(time.Second)})
	metadata := benchMetadata(4)
	body := []byte("body")
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = e.Publish(ctx, body, metadata)
	}
}

// BenchmarkEmbedded_Subscribe measures extraction on the receive path.
func BenchmarkEmbedded_Subscribe(b *testing.B) {
	payload, err := stowaway.EmbedHeaders(stowaway.HeadersFromMetadata(benchMetadata(4)), make([]byte, 1024))
	if err != nil {
		b.Fatalf("EmbedHeaders failed: %v", err)
	}

	subCh := make(chan stowaway.Result[stowaway.Message])
	e := newEmbedded(b, &mockProvider{subCh: subCh}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := e.Subscribe(ctx)

	msg := stowaway.Message{Data: payload}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		subCh <- stowaway.NewSuccess(msg)
		<-out
	}
}

// BenchmarkResult measures Result type operations.
func BenchmarkResult(b *testing.B) {
	b.Run("NewSuccess", func(b *testing.B) {
		msg := stowaway.Message{Data: []byte("test")}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			_ = stowaway.NewSuccess(msg)
		}
	})

	b.Run("NewError", func(b *testing.B) {
		err := stowaway.ErrNoWriter

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			_ = stowaway.NewError[stowaway.Message](err)
		}
	})

	b.Run("Get", func(b *testing.B) {
		result := stowaway.NewSuccess(stowaway.Message{Data: []byte("test")})

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			_, _ = result.Get()
		}
	})
}

// BenchmarkEmbedded_MessageSizes measures publish with different body sizes.
func BenchmarkEmbedded_MessageSizes(b *testing.B) {
	sizes := []struct {
		name string
		size int
	}{
		{"100B", 100},
		{"1KB", 1024},
		{"10KB", 10 * 1024},
		{"100KB", 100 * 1024},
	}

	for _, sz := range sizes {
		b.Run(sz.name, func(b *testing.B) {
			e := newEmbedded(b, &mockProvider{}, nil)
			metadata := benchMetadata(4)

			data := make([]byte, sz.size)
			for i := range data {
				data[i] = byte(i % 256)
			}

			ctx := context.Background()

			b.SetBytes(int64(sz.size))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				_ = e.Publish(ctx, data, metadata)
			}
		})
	}
}

// BenchmarkExtractHeaders_Parallel measures concurrent decoding of a shared payload.
func BenchmarkExtractHeaders_Parallel(b *testing.B) {
	payload, err := stowaway.EmbedHeaders(stowaway.HeadersFromMetadata(benchMetadata(8)), []byte("body"))
	if err != nil {
		b.Fatalf("EmbedHeaders failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			headers, _, err := stowaway.ExtractHeaders(payload)
			if err != nil {
				b.Error(err)
				return
			}
			_ = headers[0].Value()
		}
	})
}
