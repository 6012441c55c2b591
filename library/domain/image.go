package domain

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Image is a single normalized page photo owned by a Test.
// DataURL embeds the encoded payload together with its MIME type.
type Image struct {
	ID       string `json:"id"`
	DataURL  string `json:"dataUrl"`
	Order    int    `json:"order"`
	Rotation int    `json:"rotation,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Validate checks the image record shape
func (img Image) Validate() error {
	return validation.ValidateStruct(&img,
		validation.Field(&img.ID, validation.Required),
		validation.Field(&img.DataURL, validation.Required, validation.By(validDataURL)),
		validation.Field(&img.Order, validation.Min(0)),
		validation.Field(&img.Rotation, validation.In(0, 90, 180, 270)),
	)
}

func validDataURL(value interface{}) error {
	s, _ := value.(string)
	if _, _, err := DecodeDataURL(s); err != nil {
		return err
	}
	return nil
}

// SortImages orders images by Order, breaking ties by ID so the order is total.
func SortImages(images []*Image) {
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].Order != images[j].Order {
			return images[i].Order < images[j].Order
		}
		return images[i].ID < images[j].ID
	})
}

// Renumber sorts images and rewrites their Order to a dense 0..n-1 sequence.
func Renumber(images []*Image) {
	SortImages(images)
	for i, img := range images {
		img.Order = i
	}
}

// NormalizeRotation maps any multiple of 90 degrees onto 0, 90, 180 or 270.
func NormalizeRotation(degrees int) (int, error) {
	if degrees%90 != 0 {
		return 0, fmt.Errorf("%w: rotation must be a multiple of 90, got %d", ErrValidation, degrees)
	}
	r := degrees % 360
	if r < 0 {
		r += 360
	}
	return r, nil
}

const dataURLPrefix = "data:"

// EncodeDataURL builds a base64 data URL for the given payload
func EncodeDataURL(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len(dataURLPrefix) + len(mime) + 8 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(dataURLPrefix)
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DecodeDataURL splits a base64 data URL into its MIME type and payload.
func DecodeDataURL(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, dataURLPrefix) {
		return "", nil, fmt.Errorf("%w: payload is not a data URL", ErrValidation)
	}
	header, payload, ok := strings.Cut(s[len(dataURLPrefix):], ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL has no payload", ErrValidation)
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL is not base64 encoded", ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrValidation, err)
	}
	return mime, data, nil
}
