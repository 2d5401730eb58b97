// Package storage provides the remote storage abstraction for workspace
// content: one Provider interface, three implementations (S3 object store,
// Azure blob store, local filesystem), selected once at construction time
// and never switched at runtime.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the provider.
// Use errors.Is(err, storage.ErrNotFound) to check.
var ErrNotFound = errors.New("storage: key not found")

// Provider is the raw blob interface: opaque bytes by key. Keys use "/"
// separators regardless of provider.
type Provider interface {
	// Upload stores data under key, replacing any existing object.
	// metadata is attached where the backend supports it.
	Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Download retrieves the object at key. Returns ErrNotFound if absent.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys with the given prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every object with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Type returns the provider type identifier ("s3", "azure", "local").
	Type() string

	// Close releases any resources held by the provider.
	Close() error
}
