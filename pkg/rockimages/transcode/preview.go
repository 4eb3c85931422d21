// Package transcode produces preview artifacts for catalog files.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	// Decoders for the still image formats the catalog accepts.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
)

const (
	DefaultMaxWidth    = 400
	DefaultJPEGQuality = 70
	// DefaultMaxPixels bounds the decoded size of an original, about 160 MB
	// of RGBA.
	DefaultMaxPixels int64 = 40_000_000
)

// ErrTooLarge is returned for originals whose declared dimensions exceed the
// pixel budget. They keep their placeholder preview.
var ErrTooLarge = errors.New("image exceeds pixel budget")

// Generator derives a preview for a stored original.
type Generator interface {
	Preview(ctx context.Context, src storage.Locator, kind models.FileKind) (storage.Locator, error)
}

// ImagePreviewer scales still images down to a JPEG thumbnail. Videos get
// the shared video placeholder.
type ImagePreviewer struct {
	store     storage.Store
	maxWidth  int
	quality   int
	maxPixels int64
}

// NewImagePreviewer creates a previewer writing thumbnails into store.
// Non-positive sizes fall back to the defaults.
func NewImagePreviewer(store storage.Store, maxWidth, quality int, maxPixels int64) *ImagePreviewer {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &ImagePreviewer{store: store, maxWidth: maxWidth, quality: quality, maxPixels: maxPixels}
}

// Preview implements Generator.
func (p *ImagePreviewer) Preview(ctx context.Context, src storage.Locator, kind models.FileKind) (storage.Locator, error) {
	if kind == models.FileKindVideo {
		return storage.VideoPreview, nil
	}

	if err := p.checkDimensions(ctx, src); err != nil {
		return "", err
	}

	rc, err := p.store.Open(ctx, src)
	if err != nil {
		return "", fmt.Errorf("open original: %w", err)
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return "", fmt.Errorf("decode original: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumbnail(img, p.maxWidth), &jpeg.Options{Quality: p.quality}); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}

	loc, err := p.store.Write(ctx, &buf, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	return loc, nil
}

// checkDimensions reads only the image header. Decoders allocate the full
// pixel buffer from the declared size, so it is validated before decoding.
func (p *ImagePreviewer) checkDimensions(ctx context.Context, src storage.Locator) error {
	rc, err := p.store.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer rc.Close()

	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return fmt.Errorf("decode original header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("decode original header: empty image %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
		return fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}
	return nil
}

// Thumbnail scales img to maxWidth keeping its aspect ratio. Images that are
// already narrow enough are copied onto an opaque canvas unchanged in size.
func Thumbnail(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; transparent areas become white.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Placeholder renders a flat PNG used for shared preview artifacts.
func Placeholder(c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, DefaultMaxWidth, DefaultMaxWidth*3/4))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// SharedStore is a store that can hold shared placeholders.
type SharedStore interface {
	EnsureShared(loc storage.Locator, data []byte) error
}

// EnsurePlaceholders writes the pending and video placeholders if missing.
func EnsurePlaceholders(s SharedStore) error {
	if err := s.EnsureShared(storage.PendingPreview, Placeholder(color.Gray{Y: 0xd0})); err != nil {
		return fmt.Errorf("pending placeholder: %w", err)
	}
	if err := s.EnsureShared(storage.VideoPreview, Placeholder(color.Gray{Y: 0x30})); err != nil {
		return fmt.Errorf("video placeholder: %w", err)
	}
	return nil
}
