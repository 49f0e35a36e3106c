package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Backend is an object store addressed by slash separated keys.
type Backend interface {
	// Put stores data at key. contentType may be empty.
	Put(ctx context.Context, key string, data io.Reader, contentType string) error

	// Get retrieves data from key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// BatchDeleter is implemented by backends that can remove many keys in one
// round trip.
type BatchDeleter interface {
	DeleteKeys(ctx context.Context, keys []string) error
}

// deleteKeys removes keys through the batch API when the backend has one.
func deleteKeys(ctx context.Context, b Backend, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if bd, ok := b.(BatchDeleter); ok {
		return bd.DeleteKeys(ctx, keys)
	}
	var errs []error
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
