// Package storage provides the object store used for source videos and
// extracted frames, and the private scratch areas workers process in.
// It defines the ObjectStore interface (port) and implementations for local
// disk, S3-compatible buckets and MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Static errors for storage operations.
var (
	// ErrStorage wraps every upload, download and delete failure.
	ErrStorage = errors.New("storage error")
	// ErrObjectNotFound is returned when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for empty keys and keys escaping the store root.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore is byte storage addressed by key. Implementations must be safe
// for concurrent use with distinct keys.
type ObjectStore interface {
	// Upload stores data under key and returns the key.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Download opens the object for reading.
	// The caller is responsible for closing the returned ReadCloser.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// SignedURL returns a credential-free URL valid for expiry.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// cleanKey validates a store key and returns it in canonical form.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// storageErr wraps err as a storage failure of op on key.
func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, key, err)
}

// checkContext returns an error if ctx is already done.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}
