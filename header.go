package stowaway

import (
	"sync"
	"sync/atomic"
)

// Header is a single name/value pair carried inside an embedded payload.
//
// A Header is in one of two states. Owned headers hold their own byte slices and
// are created with NewHeader. View headers, produced by ExtractHeaders, only refer
// to a region of the payload they were decoded from; nothing is copied until Name
// or Value is first called, at which point both fields are copied out exactly once
// and cached. Materialization is synchronized, so a Header may be read from several
// goroutines. Headers must not be copied after first use; pass them by pointer.
type Header struct {
	lazyName  Segment
	lazyValue Segment

	once         sync.Once
	materialized atomic.Bool
	name         []byte
	value        []byte
}

// NewHeader creates an owned header. The slices are used as-is, not copied.
func NewHeader(name, value []byte) *Header {
	h := &Header{
		lazyName:  segmentOf(name),
		lazyValue: segmentOf(value),
		name:      name,
		value:     value,
	}
	h.once.Do(func() {})
	h.materialized.Store(true)
	return h
}

// NewStringHeader creates an owned header from strings.
func NewStringHeader(name, value string) *Header {
	return NewHeader([]byte(name), []byte(value))
}

// NewHeaderView creates a header that refers to name and value without copying.
// The bytes are copied out the first time Name or Value is called.
func NewHeaderView(name, value Segment) *Header {
	return &Header{
		lazyName:  name,
		lazyValue: value,
	}
}

// Name returns the header name, materializing the header if needed.
func (h *Header) Name() []byte {
	h.Materialize()
	return h.name
}

// Value returns the header value, materializing the header if needed.
func (h *Header) Value() []byte {
	h.Materialize()
	return h.value
}

// LazyName returns a view of the name without materializing.
func (h *Header) LazyName() Segment {
	return h.lazyName
}

// LazyValue returns a view of the value without materializing.
func (h *Header) LazyValue() Segment {
	return h.lazyValue
}

// NameLen returns the name length in bytes.
func (h *Header) NameLen() int {
	return h.lazyName.Len()
}

// ValueLen returns the value length in bytes.
func (h *Header) ValueLen() int {
	return h.lazyValue.Len()
}

// Materialize copies a view header into storage it owns. It is a no-op for owned
// headers and for views that were already materialized.
func (h *Header) Materialize() {
	h.once.Do(func() {
		h.name = h.lazyName.Copy()
		h.value = h.lazyValue.Copy()
		h.materialized.Store(true)
	})
}

// IsMaterialized reports whether the header owns its bytes.
func (h *Header) IsMaterialized() bool {
	return h.materialized.Load()
}

// String renders the header as name=value without materializing it.
func (h *Header) String() string {
	return string(h.lazyName.Bytes()) + "=" + string(h.lazyValue.Bytes())
}
