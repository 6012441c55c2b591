package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name          string
		w, h, maxEdge int
		wantW, wantH  int
	}{
		{name: "landscape downscale", w: 3000, h: 2000, maxEdge: 1600, wantW: 1600, wantH: 1067},
		{name: "portrait downscale", w: 2000, h: 3000, maxEdge: 1600, wantW: 1067, wantH: 1600},
		{name: "within bound", w: 1200, h: 800, maxEdge: 1600, wantW: 1200, wantH: 800},
		{name: "exactly at bound", w: 1600, h: 1600, maxEdge: 1600, wantW: 1600, wantH: 1600},
		{name: "extreme aspect keeps one pixel", w: 10000, h: 2, maxEdge: 100, wantW: 100, wantH: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := ScaledSize(tt.w, tt.h, tt.maxEdge)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("ScaledSize(%d, %d, %d) = %dx%d, want %dx%d",
					tt.w, tt.h, tt.maxEdge, gotW, gotH, tt.wantW, tt.wantH)
			}
			if gotW > tt.w || gotH > tt.h {
				t.Errorf("ScaledSize upscaled %dx%d to %dx%d", tt.w, tt.h, gotW, gotH)
			}
		})
	}
}

func TestNormalize_Downscales(t *testing.T) {
	n := NewNormalizer(Options{MaxLongEdge: 160})

	out, err := n.Normalize(pngBytes(t, 300, 200))
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}

	if out.Width != 160 || out.Height != 107 {
		t.Errorf("dimensions = %dx%d, want 160x107", out.Width, out.Height)
	}
	if out.MIME != MIMEJPEG {
		t.Errorf("MIME = %q, want %q", out.MIME, MIMEJPEG)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
	if cfg.Width != out.Width || cfg.Height != out.Height {
		t.Errorf("payload is %dx%d, reported %dx%d", cfg.Width, cfg.Height, out.Width, out.Height)
	}
}

func TestNormalize_KeepsSmallImages(t *testing.T) {
	n := NewNormalizer(Options{})

	out, err := n.Normalize(pngBytes(t, 64, 48))
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}
	if out.Width != 64 || out.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", out.Width, out.Height)
	}
}

func TestNormalize_IdempotentAndDeterministic(t *testing.T) {
	n := NewNormalizer(Options{MaxLongEdge: 100})
	raw := pngBytes(t, 250, 90)

	first, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}
	again, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}
	if !bytes.Equal(first.Data, again.Data) {
		t.Error("identical input produced different output")
	}

	second, err := n.Normalize(first.Data)
	if err != nil {
		t.Fatalf("Normalize of normalized output error = %v", err)
	}
	if second.Width != first.Width || second.Height != first.Height {
		t.Errorf("re-normalize changed %dx%d to %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
}

func TestNormalize_DecodeErrors(t *testing.T) {
	n := NewNormalizer(Options{MaxSourcePixels: 100})

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "garbage", raw: []byte("definitely not an image")},
		{name: "heic header", raw: []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")},
		{name: "over pixel limit", raw: pngBytes(t, 20, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Normalize error = %v, want *DecodeError", err)
			}
		})
	}
}

func TestRotate(t *testing.T) {
	n := NewNormalizer(Options{})
	src, err := n.Normalize(pngBytes(t, 40, 20))
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}

	tests := []struct {
		degrees      int
		wantW, wantH int
	}{
		{degrees: 0, wantW: 40, wantH: 20},
		{degrees: 90, wantW: 20, wantH: 40},
		{degrees: 180, wantW: 40, wantH: 20},
		{degrees: -90, wantW: 20, wantH: 40},
	}
	for _, tt := range tests {
		out, err := n.Rotate(*src, tt.degrees)
		if err != nil {
			t.Fatalf("Rotate(%d) error = %v", tt.degrees, err)
		}
		if out.Width != tt.wantW || out.Height != tt.wantH {
			t.Errorf("Rotate(%d) = %dx%d, want %dx%d", tt.degrees, out.Width, out.Height, tt.wantW, tt.wantH)
		}
	}

	if _, err := n.Rotate(*src, 45); err == nil {
		t.Error("Rotate(45) expected error")
	}
}
