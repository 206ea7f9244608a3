package testing

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/stowaway"
)

func TestMockProvider_Publish(t *testing.T) {
	provider := NewMockProvider()

	data := []byte("test data")
	err := provider.Publish(context.Background(), data, stowaway.Metadata{"key": "value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data[0] = 'X'

	published := provider.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published payload, got %d", len(published))
	}
	if string(published[0]) != "test data" {
		t.Errorf("expected recorded copy, got %q", published[0])
	}
}

func TestMockProvider_PublishCallback(t *testing.T) {
	var callbackData []byte
	provider := NewMockProvider().WithPublishCallback(func(data []byte) {
		callbackData = data
	})

	if err := provider.Publish(context.Background(), []byte("callback test"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(callbackData) != "callback test" {
		t.Errorf("callback data mismatch: %s", callbackData)
	}
}

func TestMockProvider_PublishError(t *testing.T) {
	boom := errors.New("boom")
	provider := NewMockProvider().WithPublishError(boom)

	if err := provider.Publish(context.Background(), []byte("x"), nil); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if provider.PublishCount() != 0 {
		t.Error("failed publish must not be recorded")
	}
}

func TestMockProvider_Subscribe(t *testing.T) {
	ch := make(chan stowaway.Result[stowaway.Message], 1)
	provider := NewMockProvider().WithSubscribeChannel(ch)

	provider.Deliver([]byte("hello"))

	result := <-provider.Subscribe(context.Background())
	if string(result.Value().Data) != "hello" {
		t.Errorf("unexpected data %q", result.Value().Data)
	}
	if err := result.Value().Ack(); err != nil {
		t.Errorf("unexpected ack error: %v", err)
	}
}

func TestMockProvider_SubscribeDefault(t *testing.T) {
	provider := NewMockProvider()

	if _, ok := <-provider.Subscribe(context.Background()); ok {
		t.Error("expected closed channel")
	}
}

func TestMockProvider_PingClose(t *testing.T) {
	provider := NewMockProvider()

	if err := provider.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !provider.IsClosed() {
		t.Error("expected closed")
	}
	if err := provider.Ping(context.Background()); !errors.Is(err, stowaway.ErrNoWriter) {
		t.Errorf("expected ErrNoWriter, got %v", err)
	}
}

func TestMockProvider_Reset(t *testing.T) {
	provider := NewMockProvider()
	_ = provider.Publish(context.Background(), []byte("a"), nil)
	_ = provider.Publish(context.Background(), []byte("b"), nil)

	provider.Reset()
	if provider.PublishCount() != 0 {
		t.Errorf("expected 0 after reset, got %d", provider.PublishCount())
	}
}

func TestMockProvider_Concurrent(t *testing.T) {
	provider := NewMockProvider()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = provider.Publish(context.Background(), []byte("x"), nil)
		}()
	}
	wg.Wait()

	if provider.PublishCount() != 50 {
		t.Errorf("expected 50 payloads, got %d", provider.PublishCount())
	}
}

func TestNewTestMessageWithAck(t *testing.T) {
	var acked, nacked bool
	msg := NewTestMessageWithAck([]byte("x"), func() { acked = true }, func() { nacked = true })

	_ = msg.Ack()
	_ = msg.Nack()
	if !acked || !nacked {
		t.Errorf("expected both callbacks, got ack=%v nack=%v", acked, nacked)
	}

	plain := NewTestMessageWithAck([]byte("x"), nil, nil)
	if plain.Ack() != nil || plain.Nack() != nil {
		t.Error("nil callbacks should be ignored")
	}
}

func TestPayloadAndRequireHeaders(t *testing.T) {
	metadata := stowaway.Metadata{"type": "GreetingsMessage", "id": "{1234-5678}"}
	payload := Payload(t, metadata, []byte("Hello"))

	if !stowaway.MayHaveEmbeddedHeaders(payload) {
		t.Fatal("expected embedded payload")
	}

	body := RequireHeaders(t, payload, metadata)
	if !bytes.Equal(body, []byte("Hello")) {
		t.Errorf("unexpected body %q", body)
	}
}

func TestEmbeddedWithMockProvider(t *testing.T) {
	ch := make(chan stowaway.Result[stowaway.Message], 1)
	mock := NewMockProvider().WithSubscribeChannel(ch)

	embedded, err := stowaway.NewEmbedded(mock, nil)
	if err != nil {
		t.Fatalf("NewEmbedded failed: %v", err)
	}

	if err := embedded.Publish(context.Background(), []byte("order"), stowaway.Metadata{"tenant": "acme"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	published := mock.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(published))
	}
	RequireHeaders(t, published[0], stowaway.Metadata{"tenant": "acme"})

	mock.Deliver(published[0])
	close(ch)

	capture := NewMessageCapture()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	capture.Drain(ctx, embedded.Subscribe(ctx))

	msgs := capture.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Data) != "order" || msgs[0].Metadata["tenant"] != "acme" {
		t.Errorf("unexpected message %q %v", msgs[0].Data, msgs[0].Metadata)
	}
}

func TestMessageCapture(t *testing.T) {
	capture := NewMessageCapture()

	go func() {
		for i := 0; i < 3; i++ {
			capture.Capture(NewTestMessage([]byte("m")))
		}
	}()

	if !capture.WaitForCount(3, time.Second) {
		t.Fatalf("expected 3 messages, got %d", capture.Count())
	}

	capture.Reset()
	if capture.Count() != 0 {
		t.Errorf("expected 0 after reset, got %d", capture.Count())
	}
	if capture.WaitForCount(1, 10*time.Millisecond) {
		t.Error("expected timeout")
	}
}

func TestErrorCapture(t *testing.T) {
	c := capitan.New(capitan.WithSyncMode())
	defer c.Shutdown()

	capture := NewErrorCapture(c)

	ch := make(chan stowaway.Result[stowaway.Message], 1)
	mock := NewMockProvider().WithSubscribeChannel(ch)
	embedded, err := stowaway.NewEmbedded(mock, nil,
		stowaway.WithEmbeddedCapitan(c),
		stowaway.WithStrict(),
		stowaway.WithMalformedPolicy(stowaway.Reject),
	)
	if err != nil {
		t.Fatalf("NewEmbedded failed: %v", err)
	}

	mock.Deliver([]byte("not embedded"))
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for range embedded.Subscribe(ctx) {
		// drain
	}

	if !capture.WaitForCount(1, time.Second) {
		t.Fatal("expected an error event")
	}
	got := capture.Errors()[0]
	if got.Operation != "extract" || !got.Nack || string(got.Raw) != "not embedded" {
		t.Errorf("unexpected error event %+v", got)
	}

	capture.Reset()
	if capture.Count() != 0 {
		t.Error("expected empty capture after reset")
	}
}
