// Package storage holds the ciphertext blob store contract and its backends.
// Blobs carry only vault-sealed bytes; plaintext never reaches this layer.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound is returned when a key does not exist or its TTL elapsed.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the external capability holding encrypted payloads.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
