package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidLocator is returned for locators that are not clean relative paths.
	ErrInvalidLocator = errors.New("invalid locator")
)

// Store persists binary artifacts. Implementations must be safe for
// concurrent use.
type Store interface {
	// Write stores the content and returns a new locator for it.
	// contentType is a hint used to pick the artifact extension.
	Write(ctx context.Context, r io.Reader, contentType string) (Locator, error)
	// Remove deletes the artifact. It returns ErrNotFound when it is already gone.
	Remove(ctx context.Context, loc Locator) error
	// Open returns a reader for the artifact.
	Open(ctx context.Context, loc Locator) (io.ReadCloser, error)
}
