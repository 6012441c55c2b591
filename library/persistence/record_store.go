package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/testprint/library/domain"
)

var _ domain.FolderRepository = (*RecordStore)(nil)

// StoreObserver is told about store outcomes the caller never sees as errors
type StoreObserver interface {
	StoreCorrupted()
	StoreWriteFailed()
}

// RecordStore implements domain.FolderRepository on top of a Slot holding
// the entire document. Every mutation reloads the document first, so
// changes made by other writers to unrelated folders survive. Writers of
// the same folder are arbitrated by Folder.Version.
type RecordStore struct {
	slot     Slot
	observer StoreObserver

	// serializes read-modify-write cycles within this process
	mu sync.Mutex
}

// NewRecordStore creates a store over slot. observer may be nil.
func NewRecordStore(slot Slot, observer StoreObserver) *RecordStore {
	return &RecordStore{slot: slot, observer: observer}
}

// Load returns the stored document. A missing slot yields an empty document;
// so does an unreadable or corrupt one, which is logged and otherwise
// ignored.
func (s *RecordStore) Load(ctx context.Context) *domain.Document {
	doc, err := s.load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read record store, starting empty")
		return domain.NewDocument()
	}
	return doc
}

// load is Load for read-modify-write cycles. Corrupt data still reads as an
// empty document, but a failed read is returned so that a write never
// replaces folders it could not see.
func (s *RecordStore) load(ctx context.Context) (*domain.Document, error) {
	data, err := s.slot.Read(ctx)
	if errors.Is(err, ErrSlotEmpty) {
		return domain.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record store: %w", err)
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		corrupt := &domain.StorageCorruptionError{Err: err}
		log.Warn().Err(corrupt).Int("bytes", len(data)).Msg("Ignoring unreadable record store")
		if s.observer != nil {
			s.observer.StoreCorrupted()
		}
		return domain.NewDocument(), nil
	}
	return doc, nil
}

// Save replaces the whole stored document
func (s *RecordStore) Save(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	data, err := EncodeDocument(doc)
	if err != nil {
		return &domain.StorageWriteError{Err: err}
	}
	if err := s.slot.Write(ctx, data); err != nil {
		if s.observer != nil {
			s.observer.StoreWriteFailed()
		}
		return &domain.StorageWriteError{Err: err}
	}
	return nil
}

// UpsertFolder replaces the stored folder with the same id, or appends f if
// there is none. f.Version must equal the stored version (0 for a new
// folder); otherwise a *domain.ConflictError is returned and nothing is
// written. If the stored document cannot be read, a
// *domain.StorageWriteError is returned and nothing is written either. The
// returned folder carries the new version.
func (s *RecordStore) UpsertFolder(ctx context.Context, f *domain.Folder) (*domain.Folder, error) {
	if f == nil {
		return nil, fmt.Errorf("folder cannot be nil")
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, &domain.StorageWriteError{Err: err}
	}

	var stored int64
	if existing, err := doc.FindFolder(f.ID); err == nil {
		stored = existing.Version
	}
	if f.Version != stored {
		return nil, &domain.ConflictError{FolderID: f.ID, ExpectedVersion: f.Version, StoredVersion: stored}
	}

	next := f.Clone()
	next.Version = stored + 1
	doc.Upsert(next)

	if err := s.Save(ctx, doc); err != nil {
		return nil, err
	}

	log.Debug().Str("folder", next.ID).Int64("version", next.Version).Msg("Folder saved")
	return next.Clone(), nil
}

// GetFolder loads the document and returns a copy of one folder
func (s *RecordStore) GetFolder(ctx context.Context, id string) (*domain.Folder, error) {
	if id == "" {
		return nil, fmt.Errorf("folder id cannot be empty")
	}
	f, err := s.Load(ctx).FindFolder(id)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFolder removes a folder and everything nested in it
func (s *RecordStore) DeleteFolder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return &domain.StorageWriteError{Err: err}
	}
	if err := doc.RemoveFolder(id); err != nil {
		return err
	}
	return s.Save(ctx, doc)
}
