package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore keeps blobs in Redis with per-key TTL. Expiry doubles as the
// logical deletion of an exchange's ciphertext.
type RedisBlobStore struct {
	client *redis.Client
}

// NewRedisBlobStore wraps a Redis client as a BlobStore.
func NewRedisBlobStore(client *redis.Client) *RedisBlobStore {
	return &RedisBlobStore{client: client}
}

// Put stores the blob under key with the provided TTL.
func (s *RedisBlobStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, "blob:"+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

// Get fetches the blob, returning ErrBlobNotFound once the TTL has elapsed.
func (s *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, "blob:"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return raw, nil
}

// Delete removes the blob immediately.
func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, "blob:"+key).Err(); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}
