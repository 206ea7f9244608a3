package stowaway

import (
	"context"
	"sort"
)

// Metadata holds message headers/attributes for cross-cutting concerns.
// Used for correlation IDs, tracing context, content types, and routing hints.
type Metadata map[string]string

type metadataKey struct{}

// HeadersFromMetadata converts metadata to owned headers ordered by key,
// so identical metadata always embeds to identical bytes.
func HeadersFromMetadata(m Metadata) []*Header {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]*Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, NewStringHeader(k, m[k]))
	}
	return headers
}

// MetadataFromHeaders materializes headers into metadata.
// When a name repeats, the last value in wire order wins.
func MetadataFromHeaders(headers []*Header) Metadata {
	if len(headers) == 0 {
		return nil
	}
	m := make(Metadata, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		m[string(h.Name())] = string(h.Value())
	}
	return m
}

// ContextWithMetadata returns a context carrying m.
func ContextWithMetadata(ctx context.Context, m Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, m)
}

// MetadataFromContext returns the metadata attached with ContextWithMetadata, or nil.
func MetadataFromContext(ctx context.Context) Metadata {
	m, _ := ctx.Value(metadataKey{}).(Metadata)
	return m
}

// copyMetadata returns a shallow copy of the metadata, or a new map if nil.
func copyMetadata(m Metadata) Metadata {
	if m == nil {
		return make(Metadata)
	}
	copied := make(Metadata, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
