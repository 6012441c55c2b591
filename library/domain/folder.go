package domain

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Folder groups tests under a display name. Version is bumped by the store
// on every accepted write and is used to reject stale saves.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int64     `json:"version"`
	Tests     []*Test   `json:"tests"`
}

// Validate checks the folder and everything nested in it
func (f Folder) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Name, validation.Required, validation.By(notBlank)),
		validation.Field(&f.Version, validation.Min(int64(0))),
		validation.Field(&f.Tests, validation.By(f.ownsTests)),
	)
}

func (f Folder) ownsTests(value interface{}) error {
	tests, _ := value.([]*Test)
	seen := make(map[string]struct{}, len(tests))
	for i, t := range tests {
		if t == nil {
			return fmt.Errorf("test %d is nil", i)
		}
		if t.FolderID != f.ID {
			return fmt.Errorf("test %q belongs to folder %q", t.ID, t.FolderID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate test id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// FindTest returns the test with the given id
func (f *Folder) FindTest(id string) (*Test, error) {
	for _, t := range f.Tests {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, notFound("test", id)
}

// RemoveTest deletes a test together with all of its images
func (f *Folder) RemoveTest(id string) error {
	for i, t := range f.Tests {
		if t.ID == id {
			f.Tests = append(f.Tests[:i:i], f.Tests[i+1:]...)
			return nil
		}
	}
	return notFound("test", id)
}

// Clone returns a deep copy of the folder
func (f *Folder) Clone() *Folder {
	if f == nil {
		return nil
	}
	out := *f
	out.Tests = make([]*Test, len(f.Tests))
	for i, t := range f.Tests {
		tc := *t
		tc.Images = make([]*Image, len(t.Images))
		for j, img := range t.Images {
			ic := *img
			tc.Images[j] = &ic
		}
		out.Tests[i] = &tc
	}
	return &out
}

// FolderRepository persists the whole folder graph as one document.
// Every mutating call is a read-modify-write over the entire document.
type FolderRepository interface {
	// Load returns the stored document, or an empty one if nothing usable is stored
	Load(ctx context.Context) *Document

	// Save replaces the stored document
	Save(ctx context.Context, doc *Document) error

	// UpsertFolder replaces the folder with a matching id or appends it
	UpsertFolder(ctx context.Context, f *Folder) (*Folder, error)

	GetFolder(ctx context.Context, id string) (*Folder, error)
	DeleteFolder(ctx context.Context, id string) error
}
