// Package blobstore stores recording media and proof bundles by content id.
package blobstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the store knows the content id does not exist. It is
	// never worth retrying.
	ErrNotFound = errors.New("blobstore: content not found")
	// ErrNotYetAvailable means the content may exist but could not be read
	// right now, typically while it propagates through the gateway.
	ErrNotYetAvailable = errors.New("blobstore: content not yet available")
)

// Store puts and gets blobs by content id.
//
// Get returns whatever shape the backend produces: []byte, string,
// io.Reader, json.RawMessage, or an already parsed map[string]any / []any.
// Callers normalize with the retrieval package.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (cid string, err error)
	Get(ctx context.Context, cid string) (any, error)
}
