package stowaway

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Wire format limits.
const (
	// Magic is the first byte of every payload with embedded headers.
	Magic byte = 0xFF

	// MaxHeaders is the largest header count the single count byte can hold.
	MaxHeaders = 255

	// MaxNameLen is the longest name the one byte name length can hold.
	MaxNameLen = 255

	// MaxValueLen is the longest value the four byte value length can hold.
	MaxValueLen = math.MaxInt32

	// MinDetectLen is the shortest payload MayHaveEmbeddedHeaders accepts.
	MinDetectLen = 9

	// prefixLen covers the magic and count bytes.
	prefixLen = 2
	// entryOverhead is the name length byte plus the four value length bytes.
	entryOverhead = 5
)

// MayHaveEmbeddedHeaders reports whether payload is worth handing to ExtractHeaders.
// It is a heuristic: arbitrary data that happens to start with Magic and is longer
// than eight bytes also passes.
func MayHaveEmbeddedHeaders(payload []byte) bool {
	return len(payload) >= MinDetectLen && payload[0] == Magic
}

// EncodedLen returns the exact size EmbedHeaders would produce for headers and body.
func EncodedLen(headers []*Header, body []byte) (int, error) {
	if len(headers) > MaxHeaders {
		return 0, fmt.Errorf("%w: %d headers, at most %d can be embedded", ErrPreconditionViolated, len(headers), MaxHeaders)
	}
	total := prefixLen + len(body)
	for i, h := range headers {
		if h == nil {
			return 0, fmt.Errorf("%w: header %d is nil", ErrInvalidArgument, i)
		}
		if h.NameLen() > MaxNameLen {
			return 0, fmt.Errorf("%w: header %d name is %d bytes, limit %d", ErrSizeExceeded, i, h.NameLen(), MaxNameLen)
		}
		if h.ValueLen() > MaxValueLen {
			return 0, fmt.Errorf("%w: header %d value is %d bytes, limit %d", ErrSizeExceeded, i, h.ValueLen(), MaxValueLen)
		}
		entry := h.NameLen() + h.ValueLen() + entryOverhead
		if total > math.MaxInt-entry {
			return 0, fmt.Errorf("%w: payload size overflows", ErrSizeExceeded)
		}
		total += entry
	}
	return total, nil
}

// EmbedHeaders encodes headers in front of body:
//
//	0xFF | n(1) | [ nameLen(1) name valueLen(4, big-endian) value ]... | body
//
// The result is a single allocation of exactly EncodedLen bytes. View headers are
// encoded straight from the buffer they refer to and are not materialized. Neither
// headers nor body is modified.
//
// A nil element of headers is ErrInvalidArgument, but a nil headers slice or a nil
// body is not: like any Go slice it is simply empty, so EmbedHeaders(nil, nil)
// returns [Magic, 0].
func EmbedHeaders(headers []*Header, body []byte) ([]byte, error) {
	n, err := EncodedLen(headers, body)
	if err != nil {
		return nil, err
	}
	return appendEncoded(make([]byte, 0, n), headers, body), nil
}

// AppendHeaders appends the encoding of headers and body to dst and returns the
// extended slice. dst grows at most once.
func AppendHeaders(dst []byte, headers []*Header, body []byte) ([]byte, error) {
	n, err := EncodedLen(headers, body)
	if err != nil {
		return dst, err
	}
	return appendEncoded(slices.Grow(dst, n), headers, body), nil
}

// appendEncoded writes the layout; headers must already be validated.
func appendEncoded(dst []byte, headers []*Header, body []byte) []byte {
	dst = append(dst, Magic, byte(len(headers)))
	for _, h := range headers {
		name := h.LazyName().Bytes()
		value := h.LazyValue().Bytes()
		dst = append(dst, byte(len(name)))
		dst = append(dst, name...)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(value)))
		dst = append(dst, value...)
	}
	return append(dst, body...)
}

// ExtractHeaders splits a payload produced by EmbedHeaders back into its headers
// and body. Nothing is copied: each header is a view into payload and body is a
// view over the trailing bytes, so payload must not be modified while they are in use.
//
// Callers are expected to gate on MayHaveEmbeddedHeaders first. ExtractHeaders only
// insists on the magic byte and the count byte, and bound-checks every length
// before using it; a truncated or corrupted payload yields ErrMalformedPayload and
// no headers.
func ExtractHeaders(payload []byte) ([]*Header, Segment, error) {
	if payload == nil {
		return nil, Segment{}, fmt.Errorf("%w: nil payload", ErrInvalidArgument)
	}
	if len(payload) < prefixLen || payload[0] != Magic {
		return nil, Segment{}, fmt.Errorf("%w: payload does not start with magic byte and count", ErrPreconditionViolated)
	}

	count := int(payload[1])
	end := len(payload)
	if count*entryOverhead > end-prefixLen {
		return nil, Segment{}, fmt.Errorf("%w: %d headers cannot fit in %d bytes", ErrMalformedPayload, count, end)
	}

	records := make([]Header, count)
	headers := make([]*Header, count)
	idx := prefixLen
	for i := 0; i < count; i++ {
		if end-idx < 1 {
			return nil, Segment{}, fmt.Errorf("%w: header %d name length missing at offset %d", ErrMalformedPayload, i, idx)
		}
		nameLen := int(payload[idx])
		idx++
		if end-idx < nameLen {
			return nil, Segment{}, fmt.Errorf("%w: header %d name of %d bytes truncated at offset %d", ErrMalformedPayload, i, nameLen, idx)
		}
		name := Segment{buf: payload, off: idx, n: nameLen}
		idx += nameLen

		if end-idx < 4 {
			return nil, Segment{}, fmt.Errorf("%w: header %d value length truncated at offset %d", ErrMalformedPayload, i, idx)
		}
		// big-endian (network byte order)
		valueLen := binary.BigEndian.Uint32(payload[idx : idx+4])
		idx += 4
		if valueLen > MaxValueLen {
			return nil, Segment{}, fmt.Errorf("%w: header %d value length %d exceeds %d", ErrMalformedPayload, i, valueLen, MaxValueLen)
		}
		if uint64(end-idx) < uint64(valueLen) {
			return nil, Segment{}, fmt.Errorf("%w: header %d value of %d bytes truncated at offset %d", ErrMalformedPayload, i, valueLen, idx)
		}
		value := Segment{buf: payload, off: idx, n: int(valueLen)}
		idx += int(valueLen)

		records[i].lazyName = name
		records[i].lazyValue = value
		headers[i] = &records[i]
	}

	return headers, Segment{buf: payload, off: idx, n: end - idx}, nil
}
