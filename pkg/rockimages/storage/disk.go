package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Disk stores artifacts as uuid-named files under a root directory.
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed and returns a Disk store.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(filepath.Join(root, strings.TrimSuffix(sharedPrefix, "/")), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Disk{root: root}, nil
}

// Root returns the directory the store writes into.
func (d *Disk) Root() string {
	return d.root
}

// Write copies r into a new artifact. The extension is derived from contentType.
func (d *Disk) Write(ctx context.Context, r io.Reader, contentType string) (Locator, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc := Locator(uuid.New().String() + extensionFor(contentType))

	dst := d.path(loc)
	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return "", fmt.Errorf("write artifact: %w", copyErr)
		}
		return "", fmt.Errorf("close artifact: %w", closeErr)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return loc, nil
}

// Remove deletes the artifact file.
func (d *Disk) Remove(_ context.Context, loc Locator) error {
	if !loc.Valid() {
		return ErrInvalidLocator
	}
	if err := os.Remove(d.path(loc)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Open opens the artifact for reading.
func (d *Disk) Open(_ context.Context, loc Locator) (io.ReadCloser, error) {
	if !loc.Valid() {
		return nil, ErrInvalidLocator
	}
	f, err := os.Open(d.path(loc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// EnsureShared writes a shared placeholder if it does not exist yet.
func (d *Disk) EnsureShared(loc Locator, data []byte) error {
	if !loc.IsShared() || !loc.Valid() {
		return ErrInvalidLocator
	}
	p := d.path(loc)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.WriteFile(p, data, 0o644)
}

func (d *Disk) path(loc Locator) string {
	return filepath.Join(d.root, filepath.FromSlash(string(loc)))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// ctxReader stops a long copy once the request is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
