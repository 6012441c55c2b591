// Package pdfdoc lays normalized images out one per page on fixed-size pages
// and serializes the result as PDF.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"

	"github.com/dfryer1193/testprint/shared/imageproc"
)

const (
	// A4 in millimetres
	PageWidthMM  = 210.0
	PageHeightMM = 297.0

	DefaultMarginMM = 10.0

	// mmPerPixel maps image pixels to page units at the 96 DPI reference density
	mmPerPixel = 25.4 / 96.0
)

// ErrEmptyInput is returned when asked to assemble zero images. An empty
// document is never produced.
var ErrEmptyInput = errors.New("no images to assemble")

// PlacementError reports the image that prevented assembly. No document is
// returned alongside it.
type PlacementError struct {
	Index int
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("cannot place image %d: %v", e.Index, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }

// Geometry describes the page and the content rectangle inside its margins,
// all in millimetres.
type Geometry struct {
	PageWidth  float64
	PageHeight float64
	Margin     float64
}

// A4 returns the A4 geometry with the given margin
func A4(margin float64) Geometry {
	return Geometry{PageWidth: PageWidthMM, PageHeight: PageHeightMM, Margin: margin}
}

func (g Geometry) ContentWidth() float64  { return g.PageWidth - 2*g.Margin }
func (g Geometry) ContentHeight() float64 { return g.PageHeight - 2*g.Margin }

// Placement is where one image lands on its page
type Placement struct {
	X, Y          float64
	Width, Height float64
	Scale         float64
}

// Place fits an image of the given pixel size inside the content rectangle,
// preserving its aspect ratio, and centres it. Unless allowUpscale is set
// the image is never drawn larger than its natural size.
func Place(pixelWidth, pixelHeight int, g Geometry, allowUpscale bool) Placement {
	naturalW := float64(pixelWidth) * mmPerPixel
	naturalH := float64(pixelHeight) * mmPerPixel
	cw, ch := g.ContentWidth(), g.ContentHeight()

	scale := math.Min(cw/naturalW, ch/naturalH)
	if !allowUpscale {
		scale = math.Min(scale, 1)
	}

	w := naturalW * scale
	h := naturalH * scale
	return Placement{
		X:      g.Margin + (cw-w)/2,
		Y:      g.Margin + (ch-h)/2,
		Width:  w,
		Height: h,
		Scale:  scale,
	}
}

// Options are per-document settings for Assemble
type Options struct {
	// Timestamp is written as the document creation and modification date.
	// Zero means the current time.
	Timestamp time.Time
	Title     string
}

// Document is an assembled PDF together with the placement of every page
type Document struct {
	Bytes []byte
	Pages []Placement
}

// Assembler produces printable documents from normalized images
type Assembler struct {
	geometry     Geometry
	allowUpscale bool
}

// NewAssembler creates an Assembler for A4 pages
func NewAssembler(marginMM float64, allowUpscale bool) *Assembler {
	if marginMM < 0 || marginMM*2 >= PageWidthMM {
		marginMM = DefaultMarginMM
	}
	return &Assembler{geometry: A4(marginMM), allowUpscale: allowUpscale}
}

// Geometry returns the page geometry used by the assembler
func (a *Assembler) Geometry() Geometry {
	return a.geometry
}

// Assemble places each image on its own page, in order, and serializes the
// document. It fails as a whole if any image cannot be placed.
func (a *Assembler) Assemble(images []imageproc.EncodedImage, opts Options) (*Document, error) {
	if len(images) == 0 {
		return nil, ErrEmptyInput
	}

	stamp := opts.Timestamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(stamp)
	pdf.SetModificationDate(stamp)
	pdf.SetCatalogSort(true)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}

	pages := make([]Placement, 0, len(images))
	for i, img := range images {
		data, imageType, w, h, err := embeddable(img.Data)
		if err != nil {
			return nil, &PlacementError{Index: i, Err: err}
		}

		name := fmt.Sprintf("page-%04d", i)
		info := pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(data))
		if pdf.Err() || info == nil {
			return nil, &PlacementError{Index: i, Err: pdf.Error()}
		}

		p := Place(w, h, a.geometry, a.allowUpscale)
		pdf.AddPage()
		pdf.ImageOptions(name, p.X, p.Y, p.Width, p.Height, false, fpdf.ImageOptions{ImageType: imageType}, 0, "")
		if pdf.Err() {
			return nil, &PlacementError{Index: i, Err: pdf.Error()}
		}
		pages = append(pages, p)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}

	return &Document{Bytes: buf.Bytes(), Pages: pages}, nil
}

// embeddable returns a payload fpdf can embed directly, transcoding formats
// it does not understand to JPEG, along with the fpdf type name and pixel size.
func embeddable(data []byte) ([]byte, string, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", 0, 0, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	switch format {
	case "jpeg":
		return data, "JPG", cfg.Width, cfg.Height, nil
	case "png":
		return data, "PNG", cfg.Width, cfg.Height, nil
	case "gif":
		return data, "GIF", cfg.Width, cfg.Height, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(imageproc.DefaultQuality)); err != nil {
		return nil, "", 0, 0, fmt.Errorf("failed to transcode %s: %w", format, err)
	}
	return buf.Bytes(), "JPG", cfg.Width, cfg.Height, nil
}
