package domain

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SchemaVersion is the version written by this module. Documents without a
// version are legacy documents and are migrated on read.
const SchemaVersion = 1

// Document is the whole persisted state: every folder with its nested tests
// and images.
type Document struct {
	Version int       `json:"version"`
	Folders []*Folder `json:"folders"`
}

// NewDocument returns an empty document at the current schema version
func NewDocument() *Document {
	return &Document{Version: SchemaVersion, Folders: []*Folder{}}
}

// Validate checks folder id uniqueness and each folder
func (d Document) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Version, validation.Required, validation.Max(SchemaVersion)),
		validation.Field(&d.Folders, validation.By(uniqueFolderIDs)),
	)
}

func uniqueFolderIDs(value interface{}) error {
	folders, _ := value.([]*Folder)
	seen := make(map[string]struct{}, len(folders))
	for _, f := range folders {
		if f == nil {
			return validation.NewError("validation_nil_folder", "contains a nil folder")
		}
		if _, dup := seen[f.ID]; dup {
			return validation.NewError("validation_duplicate_folder", "duplicate folder id "+f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// FindFolder returns the folder with the given id
func (d *Document) FindFolder(id string) (*Folder, error) {
	for _, f := range d.Folders {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, notFound("folder", id)
}

// Upsert replaces the folder with the same id or appends it.
// It reports whether an existing folder was replaced.
func (d *Document) Upsert(f *Folder) bool {
	for i, existing := range d.Folders {
		if existing.ID == f.ID {
			d.Folders[i] = f
			return true
		}
	}
	d.Folders = append(d.Folders, f)
	return false
}

// RemoveFolder deletes a folder and everything it owns
func (d *Document) RemoveFolder(id string) error {
	for i, f := range d.Folders {
		if f.ID == id {
			d.Folders = append(d.Folders[:i:i], d.Folders[i+1:]...)
			return nil
		}
	}
	return notFound("folder", id)
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	out := &Document{Version: d.Version, Folders: make([]*Folder, len(d.Folders))}
	for i, f := range d.Folders {
		out.Folders[i] = f.Clone()
	}
	return out
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// DocumentFilename derives the download name for a test from its display name.
func DocumentFilename(name string) string {
	base := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, base)
	if base == "" {
		base = "test"
	}
	return base + ".pdf"
}
