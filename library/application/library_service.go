package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/testprint/library/domain"
	"github.com/dfryer1193/testprint/shared/imageproc"
	"github.com/dfryer1193/testprint/shared/pdfdoc"
)

const (
	defaultConcurrency = 4
	defaultCacheSize   = 16
	defaultCacheTTL    = 10 * time.Minute

	// attempts at a read-modify-write before a conflict is returned
	maxWriteAttempts = 3
)

// ImageNormalizer turns uploaded files into stored payloads and rotates them for printing
type ImageNormalizer interface {
	Normalize(raw []byte) (*imageproc.EncodedImage, error)
	Rotate(src imageproc.EncodedImage, degrees int) (*imageproc.EncodedImage, error)
}

// DocumentAssembler lays out encoded images as pages of one PDF
type DocumentAssembler interface {
	Assemble(images []imageproc.EncodedImage, opts pdfdoc.Options) (*pdfdoc.Document, error)
}

// Recorder receives pipeline events, typically to count them
type Recorder interface {
	ImageNormalized()
	NormalizeFailed()
	DocumentGenerated(pages int)
	CacheHit()
	CacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) ImageNormalized()      {}
func (nopRecorder) NormalizeFailed()      {}
func (nopRecorder) DocumentGenerated(int) {}
func (nopRecorder) CacheHit()             {}
func (nopRecorder) CacheMiss()            {}

// Config tunes a LibraryService. Zero fields take defaults.
type Config struct {
	// Concurrency bounds how many images are normalized at once
	Concurrency int
	CacheSize   int
	CacheTTL    time.Duration
}

// FileFailure is one input that could not be turned into an image
type FileFailure struct {
	Index int
	Err   error
}

func (f FileFailure) Error() string {
	return fmt.Sprintf("file %d: %v", f.Index, f.Err)
}

// GeneratedDocument is a printable PDF for one test. It may be shared with
// the document cache and must not be modified.
type GeneratedDocument struct {
	Filename string
	Bytes    []byte
	Pages    int
}

// LibraryService manages folders, tests and their images, and turns tests
// into printable documents.
type LibraryService struct {
	repo       domain.FolderRepository
	normalizer ImageNormalizer
	assembler  DocumentAssembler
	recorder   Recorder
	cache      *DocumentCache

	concurrency int
	now         func() time.Time
	newID       func() string
}

// NewLibraryService creates a service over repo. recorder may be nil.
func NewLibraryService(repo domain.FolderRepository, normalizer ImageNormalizer, assembler DocumentAssembler, recorder Recorder, cfg Config) *LibraryService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	return &LibraryService{
		repo:        repo,
		normalizer:  normalizer,
		assembler:   assembler,
		recorder:    recorder,
		cache:       NewDocumentCache(cfg.CacheSize, cfg.CacheTTL, recorder),
		concurrency: cfg.Concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// ListFolders returns every stored folder in stored order
func (s *LibraryService) ListFolders(ctx context.Context) []*domain.Folder {
	return s.repo.Load(ctx).Folders
}

// SearchFolders returns the folders whose name contains query, ignoring
// case. An empty query matches every folder.
func (s *LibraryService) SearchFolders(ctx context.Context, query string) []*domain.Folder {
	folders := s.ListFolders(ctx)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return folders
	}
	matched := make([]*domain.Folder, 0, len(folders))
	for _, f := range folders {
		if strings.Contains(strings.ToLower(f.Name), query) {
			matched = append(matched, f)
		}
	}
	return matched
}

// GetFolder returns one folder with its tests
func (s *LibraryService) GetFolder(ctx context.Context, folderID string) (*domain.Folder, error) {
	return s.repo.GetFolder(ctx, folderID)
}

// GetTest returns one test with its images in page order
func (s *LibraryService) GetTest(ctx context.Context, folderID, testID string) (*domain.Test, error) {
	f, err := s.repo.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	t, err := f.FindTest(testID)
	if err != nil {
		return nil, err
	}
	domain.SortImages(t.Images)
	return t, nil
}

func (s *LibraryService) CreateFolder(ctx context.Context, name string) (*domain.Folder, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	f := &domain.Folder{
		ID:        s.newID(),
		Name:      name,
		CreatedAt: s.now(),
		Tests:     []*domain.Test{},
	}
	saved, err := s.repo.UpsertFolder(ctx, f)
	if err != nil {
		return unsaved(f, err)
	}

	log.Info().Str("folder", saved.ID).Str("name", saved.Name).Msg("Created folder")
	return saved, nil
}

func (s *LibraryService) RenameFolder(ctx context.Context, folderID, name string) (*domain.Folder, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.updateFolder(ctx, folderID, func(f *domain.Folder) error {
		f.Name = name
		return nil
	})
}

// DeleteFolder removes a folder together with all of its tests and images
func (s *LibraryService) DeleteFolder(ctx context.Context, folderID string) error {
	if err := s.repo.DeleteFolder(ctx, folderID); err != nil {
		return err
	}
	log.Info().Str("folder", folderID).Msg("Deleted folder")
	return nil
}

// CreateTest normalizes blobs and stores the ones that succeed, in input
// order, as a new test. Inputs that cannot be decoded are reported as
// failures and do not abort the batch.
func (s *LibraryService) CreateTest(ctx context.Context, folderID, name string, blobs [][]byte) (*domain.Test, []FileFailure, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, nil, err
	}

	images, failures := s.normalizeAll(ctx, blobs)
	if err := ctx.Err(); err != nil {
		return nil, failures, err
	}

	now := s.now()
	test := &domain.Test{
		ID:        s.newID(),
		Name:      name,
		FolderID:  folderID,
		Images:    []*domain.Image{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	test.AppendImages(images...)

	f, err := s.updateFolder(ctx, folderID, func(f *domain.Folder) error {
		f.Tests = append(f.Tests, cloneTest(test))
		return nil
	})
	if f == nil {
		return nil, failures, err
	}

	stored, findErr := f.FindTest(test.ID)
	if findErr != nil {
		return nil, failures, findErr
	}
	if err == nil {
		log.Info().Str("folder", folderID).Str("test", test.ID).Int("images", len(test.Images)).Int("failed", len(failures)).Msg("Created test")
	}
	return stored, failures, err
}

// AddImages normalizes blobs and appends the ones that succeed to a test
func (s *LibraryService) AddImages(ctx context.Context, folderID, testID string, blobs [][]byte) (*domain.Test, []FileFailure, error) {
	images, failures := s.normalizeAll(ctx, blobs)
	if err := ctx.Err(); err != nil {
		return nil, failures, err
	}

	t, err := s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		fresh := make([]*domain.Image, len(images))
		for i, img := range images {
			c := *img
			fresh[i] = &c
		}
		t.AppendImages(fresh...)
		return nil
	})
	return t, failures, err
}

func (s *LibraryService) RenameTest(ctx context.Context, folderID, testID, name string) (*domain.Test, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		t.Name = name
		return nil
	})
}

// DeleteTest removes a test and all of its images
func (s *LibraryService) DeleteTest(ctx context.Context, folderID, testID string) (*domain.Folder, error) {
	return s.updateFolder(ctx, folderID, func(f *domain.Folder) error {
		return f.RemoveTest(testID)
	})
}

// DeleteImage removes one image; the remaining images keep their relative
// order and are renumbered from zero.
func (s *LibraryService) DeleteImage(ctx context.Context, folderID, testID, imageID string) (*domain.Test, error) {
	return s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		return t.RemoveImage(imageID)
	})
}

// ReorderImages sets the page order to the order of imageIDs
func (s *LibraryService) ReorderImages(ctx context.Context, folderID, testID string, imageIDs []string) (*domain.Test, error) {
	return s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		return t.Reorder(imageIDs)
	})
}

// MoveImage moves one image to a zero-based page position
func (s *LibraryService) MoveImage(ctx context.Context, folderID, testID, imageID string, position int) (*domain.Test, error) {
	return s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		return t.MoveImage(imageID, position)
	})
}

// RotateImage turns an image clockwise by degrees on top of its current
// rotation. The payload is left untouched; rotation is applied when the
// document is generated.
func (s *LibraryService) RotateImage(ctx context.Context, folderID, testID, imageID string, degrees int) (*domain.Test, error) {
	if _, err := domain.NormalizeRotation(degrees); err != nil {
		return nil, err
	}
	return s.updateTest(ctx, folderID, testID, func(t *domain.Test) error {
		img, err := t.FindImage(imageID)
		if err != nil {
			return err
		}
		return t.SetRotation(imageID, img.Rotation+degrees)
	})
}

// GenerateDocument assembles the test's images, in page order, into a PDF
// with one image per A4 page.
func (s *LibraryService) GenerateDocument(ctx context.Context, folderID, testID string) (*GeneratedDocument, error) {
	t, err := s.GetTest(ctx, folderID, testID)
	if err != nil {
		return nil, err
	}

	key := t.ID + "@" + strconv.FormatInt(t.UpdatedAt.UnixNano(), 10)
	if doc, ok := s.cache.Get(key); ok {
		log.Debug().Str("test", t.ID).Msg("Serving cached document")
		return doc, nil
	}

	encoded := make([]imageproc.EncodedImage, 0, len(t.Images))
	for i, img := range t.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.pagePayload(img)
		if err != nil {
			log.Error().Err(err).Str("test", t.ID).Str("image", img.ID).Msg("Failed to prepare page")
			return nil, &pdfdoc.PlacementError{Index: i, Err: fmt.Errorf("image %s: %w", img.ID, err)}
		}
		encoded = append(encoded, *page)
	}

	assembled, err := s.assembler.Assemble(encoded, pdfdoc.Options{Timestamp: t.UpdatedAt, Title: t.Name})
	if err != nil {
		log.Error().Err(err).Str("test", t.ID).Msg("Failed to assemble document")
		return nil, fmt.Errorf("failed to assemble %q: %w", t.Name, err)
	}

	doc := &GeneratedDocument{
		Filename: domain.DocumentFilename(t.Name),
		Bytes:    assembled.Bytes,
		Pages:    len(assembled.Pages),
	}
	s.cache.Set(key, doc)
	s.recorder.DocumentGenerated(doc.Pages)

	log.Info().Str("test", t.ID).Int("pages", doc.Pages).Int("bytes", len(doc.Bytes)).Msg("Generated document")
	return doc, nil
}

func (s *LibraryService) pagePayload(img *domain.Image) (*imageproc.EncodedImage, error) {
	mime, data, err := domain.DecodeDataURL(img.DataURL)
	if err != nil {
		return nil, err
	}
	page := &imageproc.EncodedImage{Data: data, MIME: mime, Width: img.Width, Height: img.Height}
	if img.Rotation == 0 {
		return page, nil
	}
	return s.normalizer.Rotate(*page, img.Rotation)
}

// normalizeAll runs the normalizer over blobs with bounded parallelism.
// Successes come back in input order.
func (s *LibraryService) normalizeAll(ctx context.Context, blobs [][]byte) ([]*domain.Image, []FileFailure) {
	results := make([]*imageproc.EncodedImage, len(blobs))
	errs := make([]error, len(blobs))

	sem := make(chan struct{}, s.concurrency)
	wg := sync.WaitGroup{}
	for i, blob := range blobs {
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, blob []byte) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = s.normalizer.Normalize(blob)
		}(i, blob)
	}
	wg.Wait()

	images := make([]*domain.Image, 0, len(blobs))
	var failures []FileFailure
	for i := range blobs {
		if errs[i] != nil {
			s.recorder.NormalizeFailed()
			log.Warn().Err(errs[i]).Int("index", i).Msg("Skipping unreadable image")
			failures = append(failures, FileFailure{Index: i, Err: errs[i]})
			continue
		}
		s.recorder.ImageNormalized()
		images = append(images, &domain.Image{
			ID:      s.newID(),
			DataURL: domain.EncodeDataURL(results[i].MIME, results[i].Data),
			Width:   results[i].Width,
			Height:  results[i].Height,
		})
	}
	return images, failures
}

// updateFolder applies fn to the latest stored copy of a folder and saves
// it. A save that loses a race with another writer is retried against the
// newer copy. When the store cannot be written, the mutated folder is
// returned together with the *domain.StorageWriteError.
func (s *LibraryService) updateFolder(ctx context.Context, folderID string, fn func(*domain.Folder) error) (*domain.Folder, error) {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		var f *domain.Folder
		f, err = s.repo.GetFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}
		if err := fn(f); err != nil {
			return nil, err
		}

		var saved *domain.Folder
		saved, err = s.repo.UpsertFolder(ctx, f)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return unsaved(f, err)
		}
		log.Warn().Err(err).Str("folder", folderID).Int("attempt", attempt).Msg("Folder changed concurrently, retrying")
	}
	return nil, err
}

func (s *LibraryService) updateTest(ctx context.Context, folderID, testID string, fn func(*domain.Test) error) (*domain.Test, error) {
	f, err := s.updateFolder(ctx, folderID, func(f *domain.Folder) error {
		t, err := f.FindTest(testID)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		return nil
	})
	if f == nil {
		return nil, err
	}

	t, findErr := f.FindTest(testID)
	if findErr != nil {
		return nil, findErr
	}
	domain.SortImages(t.Images)
	return t, err
}

// unsaved returns the in-memory folder alongside a write failure so the
// caller can retry; other errors drop it.
func unsaved(f *domain.Folder, err error) (*domain.Folder, error) {
	var writeErr *domain.StorageWriteError
	if errors.As(err, &writeErr) {
		log.Error().Err(err).Str("folder", f.ID).Msg("Failed to persist folder")
		return f, err
	}
	return nil, err
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name must not be blank", domain.ErrValidation)
	}
	return name, nil
}

func cloneTest(t *domain.Test) *domain.Test {
	c := *t
	c.Images = make([]*domain.Image, len(t.Images))
	for i, img := range t.Images {
		ic := *img
		c.Images[i] = &ic
	}
	return &c
}
