package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/testprint/library/domain"
)

// EncodeDocument serializes a document at the current schema version
func EncodeDocument(doc *domain.Document) ([]byte, error) {
	out := *doc
	out.Version = domain.SchemaVersion
	if out.Folders == nil {
		out.Folders = []*domain.Folder{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses a stored document. Unversioned documents, written as
// a bare array of folders, are migrated to the current schema.
func DecodeDocument(data []byte) (*domain.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("document is empty")
	}

	var doc *domain.Document
	if trimmed[0] == '[' {
		var legacy []legacyFolder
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("failed to decode legacy document: %w", err)
		}
		doc = migrateLegacy(legacy)
	} else {
		doc = new(domain.Document)
		if err := json.Unmarshal(trimmed, doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		if doc.Version > domain.SchemaVersion {
			return nil, fmt.Errorf("document version %d is newer than supported version %d", doc.Version, domain.SchemaVersion)
		}
		if doc.Version < 1 {
			return nil, fmt.Errorf("document has no schema version")
		}
	}

	if doc.Folders == nil {
		doc.Folders = []*domain.Folder{}
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("document is invalid: %w", err)
	}
	return doc, nil
}

// legacyFolder covers both shapes the unversioned app wrote: folders holding
// tests, and folders holding a flat list of images.
type legacyFolder struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt legacyTime    `json:"createdAt"`
	Tests     []legacyTest  `json:"tests"`
	Images    []legacyImage `json:"images"`
}

type legacyTest struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	FolderID  string        `json:"folderId"`
	Images    []legacyImage `json:"images"`
	CreatedAt legacyTime    `json:"createdAt"`
	UpdatedAt legacyTime    `json:"updatedAt"`
}

type legacyImage struct {
	ID       string `json:"id"`
	DataURL  string `json:"dataUrl"`
	FileData string `json:"fileData"`
	Order    int    `json:"order"`
	Rotation int    `json:"rotation"`
}

// legacyTime accepts RFC 3339 strings, epoch milliseconds, or nothing.
type legacyTime struct {
	time.Time
}

func (t *legacyTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		t.Time = parsed
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return nil
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// flatImagesNamespace derives stable test ids for folders that held images directly
var flatImagesNamespace = uuid.MustParse("6f3d9b7e-2a41-4c55-9d0e-7c1b8f5e4a10")

// Names given to legacy folders and tests that were saved with a blank name
const (
	untitledFolder = "Untitled folder"
	untitledTest   = "Untitled test"
)

// migrateLegacy converts an unversioned document. Blank names, missing or
// repeated ids and unusable images are repaired or dropped one record at a
// time so that a single bad record never discards the rest.
func migrateLegacy(legacy []legacyFolder) *domain.Document {
	doc := domain.NewDocument()
	folderIDs := make(map[string]struct{}, len(legacy))
	for _, lf := range legacy {
		f := &domain.Folder{
			ID:        uniqueID(lf.ID, folderIDs),
			Name:      nameOr(lf.Name, untitledFolder),
			CreatedAt: lf.CreatedAt.Time,
			Tests:     []*domain.Test{},
		}
		testIDs := make(map[string]struct{}, len(lf.Tests)+1)
		for _, lt := range lf.Tests {
			f.Tests = append(f.Tests, &domain.Test{
				ID:        uniqueID(lt.ID, testIDs),
				Name:      nameOr(lt.Name, untitledTest),
				FolderID:  f.ID,
				Images:    migrateImages(lt.Images),
				CreatedAt: lt.CreatedAt.Time,
				UpdatedAt: lt.UpdatedAt.Time,
			})
		}
		if len(lf.Images) > 0 {
			id := uuid.NewSHA1(flatImagesNamespace, []byte(f.ID)).String()
			f.Tests = append(f.Tests, &domain.Test{
				ID:        uniqueID(id, testIDs),
				Name:      f.Name,
				FolderID:  f.ID,
				Images:    migrateImages(lf.Images),
				CreatedAt: lf.CreatedAt.Time,
				UpdatedAt: lf.CreatedAt.Time,
			})
		}
		doc.Folders = append(doc.Folders, f)
	}
	return doc
}

func migrateImages(legacy []legacyImage) []*domain.Image {
	images := make([]*domain.Image, 0, len(legacy))
	seen := make(map[string]struct{}, len(legacy))
	for _, li := range legacy {
		payload := li.DataURL
		if payload == "" {
			payload = li.FileData
		}
		if payload == "" {
			continue
		}
		if _, _, err := domain.DecodeDataURL(payload); err != nil {
			log.Warn().Err(err).Str("image", li.ID).Msg("Dropping legacy image with an unreadable payload")
			continue
		}
		rotation, err := domain.NormalizeRotation(li.Rotation)
		if err != nil {
			rotation = 0
		}
		images = append(images, &domain.Image{
			ID:       uniqueID(li.ID, seen),
			DataURL:  payload,
			Order:    li.Order,
			Rotation: rotation,
		})
	}
	domain.Renumber(images)
	return images
}

// uniqueID returns id, or a fresh one when id is blank or already in seen,
// and records the result in seen.
func uniqueID(id string, seen map[string]struct{}) string {
	if _, dup := seen[id]; dup || strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	seen[id] = struct{}{}
	return id
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
