// Package testing provides test utilities for code built on stowaway.
package testing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/stowaway"
)

// MockProvider is a header-less test transport: metadata passed to Publish is
// dropped and only the raw bytes are recorded, like the real byte-only providers.
// Safe for concurrent use.
type MockProvider struct {
	mu         sync.Mutex
	published  [][]byte
	subCh      chan stowaway.Result[stowaway.Message]
	closed     bool
	publishErr error
	onPublish  func(data []byte)
}

// NewMockProvider creates a new MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// WithSubscribeChannel sets the channel returned by Subscribe.
func (m *MockProvider) WithSubscribeChannel(ch chan stowaway.Result[stowaway.Message]) *MockProvider {
	m.subCh = ch
	return m
}

// WithPublishCallback sets a callback invoked on each successful Publish.
func (m *MockProvider) WithPublishCallback(fn func(data []byte)) *MockProvider {
	m.onPublish = fn
	return m
}

// WithPublishError makes every Publish fail with err.
func (m *MockProvider) WithPublishError(err error) *MockProvider {
	m.publishErr = err
	return m
}

// Publish records a copy of data.
func (m *MockProvider) Publish(_ context.Context, data []byte, _ stowaway.Metadata) error {
	if m.publishErr != nil {
		return m.publishErr
	}

	m.mu.Lock()
	m.published = append(m.published, bytes.Clone(data))
	onPublish := m.onPublish
	m.mu.Unlock()

	if onPublish != nil {
		onPublish(data)
	}
	return nil
}

// Subscribe returns the configured channel or a closed channel if none set.
func (m *MockProvider) Subscribe(_ context.Context) <-chan stowaway.Result[stowaway.Message] {
	if m.subCh != nil {
		return m.subCh
	}
	ch := make(chan stowaway.Result[stowaway.Message])
	close(ch)
	return ch
}

// Deliver pushes a raw payload to the subscribe channel as a message with
// no-op Ack and Nack. The subscribe channel must be set and have room.
func (m *MockProvider) Deliver(data []byte) {
	m.subCh <- stowaway.NewSuccess(NewTestMessage(data))
}

// Ping fails once the provider is closed.
func (m *MockProvider) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return stowaway.ErrNoWriter
	}
	return nil
}

// Close marks the provider as closed.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Published returns a copy of all published payloads.
func (m *MockProvider) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.published))
	copy(result, m.published)
	return result
}

// PublishCount returns the number of published payloads.
func (m *MockProvider) PublishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// IsClosed returns whether Close has been called.
func (m *MockProvider) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all published payloads.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = m.published[:0]
}

// NewTestMessage creates a Message carrying data with no-op ack/nack.
func NewTestMessage(data []byte) stowaway.Message {
	return stowaway.Message{
		Data: data,
		Ack:  func() error { return nil },
		Nack: func() error { return nil },
	}
}

// NewTestMessageWithAck creates a Message with tracking ack/nack functions.
func NewTestMessageWithAck(data []byte, onAck, onNack func()) stowaway.Message {
	return stowaway.Message{
		Data: data,
		Ack: func() error {
			if onAck != nil {
				onAck()
			}
			return nil
		},
		Nack: func() error {
			if onNack != nil {
				onNack()
			}
			return nil
		},
	}
}

// Payload builds an embedded payload from metadata and body, failing the test
// if encoding fails.
func Payload(t testing.TB, metadata stowaway.Metadata, body []byte) []byte {
	t.Helper()
	payload, err := stowaway.EmbedHeaders(stowaway.HeadersFromMetadata(metadata), body)
	if err != nil {
		t.Fatalf("embedding headers: %v", err)
	}
	return payload
}

// RequireHeaders extracts payload and fails the test unless it carries exactly
// the expected metadata. Returns the body view.
func RequireHeaders(t testing.TB, payload []byte, expected stowaway.Metadata) []byte {
	t.Helper()
	headers, body, err := stowaway.ExtractHeaders(payload)
	if err != nil {
		t.Fatalf("extracting headers: %v", err)
	}
	got := stowaway.MetadataFromHeaders(headers)
	if len(got) != len(expected) {
		t.Fatalf("expected %d headers, got %d: %v", len(expected), len(got), got)
	}
	for k, v := range expected {
		if got[k] != v {
			t.Fatalf("header %q: expected %q, got %q", k, v, got[k])
		}
	}
	return body.Bytes()
}

// MessageCapture captures messages for testing and verification.
// Safe for concurrent capture.
type MessageCapture struct {
	messages []stowaway.Message
	mu       sync.Mutex
}

// NewMessageCapture creates a new MessageCapture instance.
func NewMessageCapture() *MessageCapture {
	return &MessageCapture{}
}

// Capture adds a message to the capture.
func (mc *MessageCapture) Capture(msg stowaway.Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.messages = append(mc.messages, msg)
}

// Drain captures successful results from ch until it closes or ctx is done.
func (mc *MessageCapture) Drain(ctx context.Context, ch <-chan stowaway.Result[stowaway.Message]) {
	for {
		select {
		case result, ok := <-ch:
			if !ok {
				return
			}
			if result.IsSuccess() {
				mc.Capture(result.Value())
			}
		case <-ctx.Done():
			return
		}
	}
}

// Messages returns a copy of all captured messages.
func (mc *MessageCapture) Messages() []stowaway.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	result := make([]stowaway.Message, len(mc.messages))
	copy(result, mc.messages)
	return result
}

// Count returns the number of captured messages.
func (mc *MessageCapture) Count() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.messages)
}

// Reset clears all captured messages.
func (mc *MessageCapture) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.messages = mc.messages[:0]
}

// WaitForCount blocks until the capture has at least n messages or timeout occurs.
// Returns true if count reached, false if timeout.
func (mc *MessageCapture) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mc.Count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// ErrorCapture records stowaway errors emitted on ErrorSignal.
type ErrorCapture struct {
	errors []stowaway.Error
	mu     sync.Mutex
}

// NewErrorCapture creates an ErrorCapture hooked to ErrorSignal on c.
func NewErrorCapture(c *capitan.Capitan) *ErrorCapture {
	ec := &ErrorCapture{}
	c.Hook(stowaway.ErrorSignal, func(_ context.Context, ev *capitan.Event) {
		if e, ok := stowaway.ErrorKey.From(ev); ok {
			ec.Capture(e)
		}
	})
	return ec
}

// Capture adds an error to the capture.
func (ec *ErrorCapture) Capture(err stowaway.Error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, err)
}

// Errors returns a copy of all captured errors.
func (ec *ErrorCapture) Errors() []stowaway.Error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	result := make([]stowaway.Error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// Count returns the number of captured errors.
func (ec *ErrorCapture) Count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.errors)
}

// Reset clears all captured errors.
func (ec *ErrorCapture) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = ec.errors[:0]
}

// WaitForCount blocks until the capture has at least n errors or timeout occurs.
func (ec *ErrorCapture) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ec.Count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
