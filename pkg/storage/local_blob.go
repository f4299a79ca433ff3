package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalBlobStore persists blobs on disk under a base directory. Intended for
// development and tests; expiry is checked on read and a Sweep pass reclaims
// blobs nobody reads again.
type LocalBlobStore struct {
	baseDir string
}

// NewLocalBlobStore ensures the base directory exists and returns a handle.
func NewLocalBlobStore(baseDir string) (*LocalBlobStore, error) {
	if baseDir == "" {
		baseDir = "./blobs"
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalBlobStore{baseDir: baseDir}, nil
}

// Put writes the blob and records its expiry in a sidecar file.
func (s *LocalBlobStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	path := s.resolve(key)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	expiry := time.Now().Add(ttl).UTC().Format(time.RFC3339)
	if err := os.WriteFile(path+".ttl", []byte(expiry), 0o600); err != nil {
		return fmt.Errorf("write blob expiry: %w", err)
	}
	return nil
}

// Get reads the blob, honoring the recorded expiry.
func (s *LocalBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := s.resolve(key)
	if expired, err := s.isExpired(path); err == nil && expired {
		_ = os.Remove(path)
		_ = os.Remove(path + ".ttl")
		return nil, ErrBlobNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob and its expiry marker if present.
func (s *LocalBlobStore) Delete(ctx context.Context, key string) error {
	path := s.resolve(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := os.Remove(path + ".ttl"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob expiry: %w", err)
	}
	return nil
}

// Sweep removes blobs whose recorded expiry has passed and returns how many
// were deleted.
func (s *LocalBlobStore) Sweep() (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("sweep blobs: %w", err)
	}
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".ttl" {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		if expired, err := s.isExpired(path); err == nil && expired {
			if err := os.Remove(path); err == nil {
				_ = os.Remove(path + ".ttl")
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *LocalBlobStore) isExpired(path string) (bool, error) {
	raw, err := os.ReadFile(path + ".ttl")
	if err != nil {
		return false, err
	}
	expiry, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return false, err
	}
	return time.Now().After(expiry), nil
}

func (s *LocalBlobStore) resolve(key string) string {
	// Keys are hex-encoded to keep the filename flat and safe.
	return filepath.Join(s.baseDir, hex.EncodeToString([]byte(key)))
}
