package stowaway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/pipz"
)

// funcProvider publishes through fn; everything else is the mock.
type funcProvider struct {
	mockProvider
	fn func(ctx context.Context, data []byte) error
}

func (f *funcProvider) Publish(ctx context.Context, data []byte, _ Metadata) error {
	return f.fn(ctx, data)
}

func TestOptions_WithBackoff(t *testing.T) {
	var attempts atomic.Int32
	inner := &funcProvider{fn: func(_ context.Context, _ []byte) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient error")
		}
		return nil
	}}
	e := newTestEmbedded(t, inner, []Option{WithBackoff(3, 10*time.Millisecond)})

	if err := e.Publish(context.Background(), []byte("body"), Metadata{"k": "v"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestOptions_WithTimeout(t *testing.T) {
	inner := &funcProvider{fn: func(ctx context.Context, _ []byte) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}}
	e := newTestEmbedded(t, inner, []Option{WithTimeout(50 * time.Millisecond)})

	start := time.Now()
	err := e.Publish(context.Background(), []byte("body"), nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestOptions_WithRateLimit(t *testing.T) {
	var published atomic.Int32
	inner := &funcProvider{fn: func(_ context.Context, _ []byte) error {
		published.Add(1)
		return nil
	}}
	e := newTestEmbedded(t, inner, []Option{WithRateLimit(100, 1)})

	for i := 0; i < 3; i++ {
		if err := e.Publish(context.Background(), []byte("body"), nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if published.Load() != 3 {
		t.Errorf("expected 3 published, got %d", published.Load())
	}
}

func TestOptions_WithCircuitBreaker(t *testing.T) {
	var attempts atomic.Int32
	inner := &funcProvider{fn: func(_ context.Context, _ []byte) error {
		attempts.Add(1)
		return errors.New("always fails")
	}}
	e := newTestEmbedded(t, inner, []Option{WithCircuitBreaker(2, time.Minute)})

	for i := 0; i < 5; i++ {
		if err := e.Publish(context.Background(), []byte("body"), nil); err == nil {
			t.Fatal("expected error")
		}
	}

	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts before circuit opened, got %d", attempts.Load())
	}
}

func TestOptions_WithErrorHandler(t *testing.T) {
	var handled atomic.Int32
	inner := &funcProvider{fn: func(_ context.Context, _ []byte) error {
		return errors.New("publish failed")
	}}

	handler := pipz.Effect(pipz.NewIdentity("count-errors", "Counts publish failures"),
		func(_ context.Context, _ *pipz.Error[*Outbound]) error {
			handled.Add(1)
			return nil
		})
	e := newTestEmbedded(t, inner, []Option{WithErrorHandler(handler)})

	_ = e.Publish(context.Background(), []byte("body"), Metadata{"k": "v"})

	if handled.Load() != 1 {
		t.Errorf("expected 1 handled error, got %d", handled.Load())
	}
}

func TestOptions_WithFallback(t *testing.T) {
	primary := &funcProvider{fn: func(_ context.Context, _ []byte) error {
		return errors.New("primary down")
	}}
	backup := &mockProvider{}
	e := newTestEmbedded(t, primary, []Option{WithFallback(PublishTo(backup))})

	if err := e.Publish(context.Background(), []byte("body"), Metadata{"k": "v"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	published := backup.Published()
	if len(published) != 1 {
		t.Fatalf("expected fallback to receive 1 payload, got %d", len(published))
	}
	headers, body, err := ExtractHeaders(published[0])
	if err != nil {
		t.Fatalf("ExtractHeaders failed: %v", err)
	}
	if len(headers) != 1 || string(body.Bytes()) != "body" {
		t.Errorf("unexpected fallback payload %q", published[0])
	}
}

func TestOptions_WithPipeline(t *testing.T) {
	var seen atomic.Bool
	inner := &mockProvider{}

	custom := pipz.Transform(pipz.NewIdentity("mark", "Marks the payload"),
		func(_ context.Context, out *Outbound) *Outbound {
			seen.Store(out.Metadata["k"] == "v")
			return out
		})
	e := newTestEmbedded(t, inner, []Option{WithPipeline(custom)})

	if err := e.Publish(context.Background(), []byte("body"), Metadata{"k": "v"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !seen.Load() {
		t.Error("expected custom pipeline to see outbound metadata")
	}
	if len(inner.Published()) != 0 {
		t.Error("custom pipeline replaces the transport publish")
	}
}
