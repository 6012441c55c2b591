// Package imageproc turns user-supplied photos into bounded, re-encoded JPEG
// payloads suitable for storage and page layout.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	// Extra decoders beyond the ones imaging registers.
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxLongEdge bounds the longer side of a normalized image
	DefaultMaxLongEdge = 1600
	// DefaultQuality is the JPEG quality used for re-encoding
	DefaultQuality = 85
	// DefaultMaxSourcePixels rejects absurd inputs before allocating them
	DefaultMaxSourcePixels = 120_000_000

	// MIMEJPEG is the MIME type of every normalized payload
	MIMEJPEG = "image/jpeg"
)

// EncodedImage is a self-contained encoded picture and its pixel size
type EncodedImage struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// DecodeError reports input that is not a supported, readable image
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrTooLarge is wrapped in a DecodeError when the source exceeds MaxSourcePixels
var ErrTooLarge = errors.New("image exceeds the pixel limit")

// Options configures a Normalizer. Zero fields take the package defaults.
type Options struct {
	MaxLongEdge     int
	Quality         int
	MaxSourcePixels int
}

// Normalizer decodes, bounds and re-encodes images. It holds no mutable
// state, so one value can serve any number of concurrent calls.
type Normalizer struct {
	maxLongEdge     int
	quality         int
	maxSourcePixels int
}

// NewNormalizer creates a Normalizer, filling unset options with defaults
func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		maxLongEdge:     opts.MaxLongEdge,
		quality:         opts.Quality,
		maxSourcePixels: opts.MaxSourcePixels,
	}
	if n.maxLongEdge <= 0 {
		n.maxLongEdge = DefaultMaxLongEdge
	}
	if n.quality <= 0 || n.quality > 100 {
		n.quality = DefaultQuality
	}
	if n.maxSourcePixels <= 0 {
		n.maxSourcePixels = DefaultMaxSourcePixels
	}
	return n
}

// MaxLongEdge returns the configured bound
func (n *Normalizer) MaxLongEdge() int {
	return n.maxLongEdge
}

// Normalize decodes raw, scales it down so its long edge is at most the
// configured bound, and re-encodes it as JPEG.
func (n *Normalizer) Normalize(raw []byte) (*EncodedImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if cfg.Width*cfg.Height > n.maxSourcePixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)}
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), n.maxLongEdge)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	return n.encode(img)
}

// Rotate returns a copy of src turned clockwise by degrees, which must be a
// multiple of 90.
func (n *Normalizer) Rotate(src EncodedImage, degrees int) (*EncodedImage, error) {
	if degrees%90 != 0 {
		return nil, fmt.Errorf("rotation must be a multiple of 90, got %d", degrees)
	}
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		out := src
		return &out, nil
	}

	img, err := imaging.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	// imaging rotates counter-clockwise
	switch turns {
	case 1:
		img = imaging.Rotate270(img)
	case 2:
		img = imaging.Rotate180(img)
	case 3:
		img = imaging.Rotate90(img)
	}
	return n.encode(img)
}

func (n *Normalizer) encode(img image.Image) (*EncodedImage, error) {
	b := img.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return &EncodedImage{
		Data:   buf.Bytes(),
		MIME:   MIMEJPEG,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// ScaledSize returns the dimensions after bounding the long edge to
// maxLongEdge. It never scales up and preserves the aspect ratio with a
// single factor.
func ScaledSize(width, height, maxLongEdge int) (int, int) {
	long := max(width, height)
	if long <= 0 || maxLongEdge <= 0 {
		return width, height
	}
	scale := math.Min(1, float64(maxLongEdge)/float64(long))
	if scale == 1 {
		return width, height
	}
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}
