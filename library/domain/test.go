package domain

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Test is a named, ordered collection of images that becomes one printable
// document. A test exclusively owns its images.
type Test struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FolderID  string    `json:"folderId"`
	Images    []*Image  `json:"images"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the test and every image it owns
func (t Test) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ID, validation.Required),
		validation.Field(&t.Name, validation.Required, validation.By(notBlank)),
		validation.Field(&t.FolderID, validation.Required),
		validation.Field(&t.Images, validation.By(uniqueImageIDs)),
	)
}

func notBlank(value interface{}) error {
	if s, _ := value.(string); strings.TrimSpace(s) == "" {
		return validation.NewError("validation_blank", "must not be blank")
	}
	return nil
}

func uniqueImageIDs(value interface{}) error {
	images, _ := value.([]*Image)
	seen := make(map[string]struct{}, len(images))
	for i, img := range images {
		if img == nil {
			return fmt.Errorf("image %d is nil", i)
		}
		if _, dup := seen[img.ID]; dup {
			return fmt.Errorf("duplicate image id %q", img.ID)
		}
		seen[img.ID] = struct{}{}
	}
	return nil
}

// OrderedImages returns the images sorted by their order without modifying t.
func (t *Test) OrderedImages() []*Image {
	out := make([]*Image, len(t.Images))
	copy(out, t.Images)
	SortImages(out)
	return out
}

// FindImage returns the image with the given id
func (t *Test) FindImage(id string) (*Image, error) {
	for _, img := range t.Images {
		if img.ID == id {
			return img, nil
		}
	}
	return nil, notFound("image", id)
}

// AppendImages adds images after the current last position, keeping the
// incoming order.
func (t *Test) AppendImages(images ...*Image) {
	Renumber(t.Images)
	next := len(t.Images)
	for _, img := range images {
		img.Order = next
		next++
		t.Images = append(t.Images, img)
	}
}

// RemoveImage deletes an image and renumbers the remaining ones densely.
func (t *Test) RemoveImage(id string) error {
	for i, img := range t.Images {
		if img.ID != id {
			continue
		}
		t.Images = append(t.Images[:i:i], t.Images[i+1:]...)
		Renumber(t.Images)
		return nil
	}
	return notFound("image", id)
}

// Reorder assigns order by position in ids, which must be a permutation of
// the test's image ids.
func (t *Test) Reorder(ids []string) error {
	if len(ids) != len(t.Images) {
		return fmt.Errorf("%w: reorder lists %d images, test has %d", ErrValidation, len(ids), len(t.Images))
	}
	byID := make(map[string]*Image, len(t.Images))
	for _, img := range t.Images {
		byID[img.ID] = img
	}
	ordered := make([]*Image, 0, len(ids))
	for _, id := range ids {
		img, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: reorder references unknown or repeated image %q", ErrValidation, id)
		}
		delete(byID, id)
		ordered = append(ordered, img)
	}
	for pos, img := range ordered {
		img.Order = pos
	}
	t.Images = ordered
	return nil
}

// MoveImage moves one image to position to, shifting its siblings.
func (t *Test) MoveImage(id string, to int) error {
	ordered := t.OrderedImages()
	from := -1
	for i, img := range ordered {
		if img.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return notFound("image", id)
	}
	if to < 0 || to >= len(ordered) {
		return fmt.Errorf("%w: position %d out of range [0,%d)", ErrValidation, to, len(ordered))
	}
	moved := ordered[from]
	ordered = append(ordered[:from], ordered[from+1:]...)
	ordered = append(ordered[:to], append([]*Image{moved}, ordered[to:]...)...)
	for i, img := range ordered {
		img.Order = i
	}
	t.Images = ordered
	return nil
}

// SetRotation stores a rotation hint on one image
func (t *Test) SetRotation(id string, degrees int) error {
	img, err := t.FindImage(id)
	if err != nil {
		return err
	}
	r, err := NormalizeRotation(degrees)
	if err != nil {
		return err
	}
	img.Rotation = r
	return nil
}
