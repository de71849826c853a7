// Package state provides the idempotency store: durable keyed JSON documents
// with a write-once primitive. It is what makes webhook redelivery and
// replayed approvals collapse to a single side effect.
package state

import "context"

// Doc is one stored document. Values are whatever survives a JSON round trip.
type Doc map[string]any

// Store is the persistence interface for idempotency state.
//
// SetOnce is the dedup primitive: for a given key, exactly one concurrent
// caller observes true; everyone else observes false and must stop. Update
// merges patch fields into the existing document (or creates it), leaving
// unmentioned fields intact. Implementations serialize all three operations
// against each other.
type Store interface {
	Get(ctx context.Context, key string) (Doc, bool, error)
	SetOnce(ctx context.Context, key string, value Doc) (bool, error)
	Update(ctx context.Context, key string, patch Doc) error
}

// Clone returns a shallow copy of d so callers never share map storage with
// the store.
func Clone(d Doc) Doc {
	cp := make(Doc, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}

// Merge copies every field of patch into dst and returns dst.
func Merge(dst, patch Doc) Doc {
	for k, v := range patch {
		dst[k] = v
	}
	return dst
}
