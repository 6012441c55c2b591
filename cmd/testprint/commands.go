package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/testprint/library/application"
	"github.com/dfryer1193/testprint/library/domain"
	"github.com/dfryer1193/testprint/library/persistence"
)

type app struct {
	svc       *application.LibraryService
	slot      persistence.Slot
	out       io.Writer
	outputDir string
}

type command struct {
	name    string
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"folders", "folders [-search TEXT], list folders, tests and image counts", (*app).listFolders},
	{"folder-create", "folder-create NAME", (*app).createFolder},
	{"folder-rename", "folder-rename FOLDER NAME", (*app).renameFolder},
	{"folder-delete", "folder-delete FOLDER", (*app).deleteFolder},
	{"test-create", "test-create -folder ID -name NAME FILE...", (*app).createTest},
	{"test-rename", "test-rename -folder ID -test ID NAME", (*app).renameTest},
	{"test-delete", "test-delete -folder ID -test ID", (*app).deleteTest},
	{"image-add", "image-add -folder ID -test ID FILE...", (*app).addImages},
	{"image-delete", "image-delete -folder ID -test ID -image ID", (*app).deleteImage},
	{"image-move", "image-move -folder ID -test ID -image ID -to N", (*app).moveImage},
	{"image-reorder", "image-reorder -folder ID -test ID IMAGE...", (*app).reorderImages},
	{"image-rotate", "image-rotate -folder ID -test ID -image ID -degrees N", (*app).rotateImage},
	{"generate", "generate -folder ID -test ID [-o FILE]", (*app).generate},
	{"watch", "print the folder list whenever the file store changes", (*app).watch},
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	for _, c := range commands {
		if c.name == name {
			return c.run(a, ctx, args)
		}
	}
	return fmt.Errorf("unknown command %q", name)
}

// testFlags parses the -folder and -test flags shared by most commands
type testFlags struct {
	fs     *flag.FlagSet
	folder *string
	test   *string
}

func newTestFlags(name string) *testFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &testFlags{
		fs:     fs,
		folder: fs.String("folder", "", "folder id"),
		test:   fs.String("test", "", "test id"),
	}
}

func (f *testFlags) parse(args []string, needTest bool) error {
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if *f.folder == "" {
		return fmt.Errorf("%s: -folder is required", f.fs.Name())
	}
	if needTest && *f.test == "" {
		return fmt.Errorf("%s: -test is required", f.fs.Name())
	}
	return nil
}

func (a *app) listFolders(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("folders", flag.ContinueOnError)
	search := fs.String("search", "", "only folders whose name contains this text, ignoring case")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.printFolders(a.svc.SearchFolders(ctx, *search))
}

func (a *app) printFolders(folders []*domain.Folder) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tTEST\tNAME\tIMAGES")
	for _, f := range folders {
		fmt.Fprintf(w, "%s\t\t%s\t\n", f.ID, f.Name)
		for _, t := range f.Tests {
			fmt.Fprintf(w, "\t%s\t%s\t%d\n", t.ID, t.Name, len(t.Images))
		}
	}
	return w.Flush()
}

func (a *app) createFolder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("folder-create: expected NAME")
	}
	f, err := a.svc.CreateFolder(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, f.ID)
	return nil
}

func (a *app) renameFolder(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("folder-rename: expected FOLDER NAME")
	}
	_, err := a.svc.RenameFolder(ctx, args[0], args[1])
	return err
}

func (a *app) deleteFolder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("folder-delete: expected FOLDER")
	}
	return a.svc.DeleteFolder(ctx, args[0])
}

func (a *app) createTest(ctx context.Context, args []string) error {
	f := newTestFlags("test-create")
	name := f.fs.String("name", "", "test name")
	if err := f.parse(args, false); err != nil {
		return err
	}

	blobs, err := readFiles(f.fs.Args())
	if err != nil {
		return err
	}
	t, failures, err := a.svc.CreateTest(ctx, *f.folder, *name, blobs)
	a.reportFailures(f.fs.Args(), failures)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, t.ID)
	return nil
}

func (a *app) renameTest(ctx context.Context, args []string) error {
	f := newTestFlags("test-rename")
	if err := f.parse(args, true); err != nil {
		return err
	}
	if f.fs.NArg() != 1 {
		return fmt.Errorf("test-rename: expected NAME")
	}
	_, err := a.svc.RenameTest(ctx, *f.folder, *f.test, f.fs.Arg(0))
	return err
}

func (a *app) deleteTest(ctx context.Context, args []string) error {
	f := newTestFlags("test-delete")
	if err := f.parse(args, true); err != nil {
		return err
	}
	_, err := a.svc.DeleteTest(ctx, *f.folder, *f.test)
	return err
}

func (a *app) addImages(ctx context.Context, args []string) error {
	f := newTestFlags("image-add")
	if err := f.parse(args, true); err != nil {
		return err
	}
	if f.fs.NArg() == 0 {
		return fmt.Errorf("image-add: expected at least one FILE")
	}

	blobs, err := readFiles(f.fs.Args())
	if err != nil {
		return err
	}
	t, failures, err := a.svc.AddImages(ctx, *f.folder, *f.test, blobs)
	a.reportFailures(f.fs.Args(), failures)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d images\n", len(t.Images))
	return nil
}

func (a *app) deleteImage(ctx context.Context, args []string) error {
	f := newTestFlags("image-delete")
	image := f.fs.String("image", "", "image id")
	if err := f.parse(args, true); err != nil {
		return err
	}
	_, err := a.svc.DeleteImage(ctx, *f.folder, *f.test, *image)
	return err
}

func (a *app) moveImage(ctx context.Context, args []string) error {
	f := newTestFlags("image-move")
	image := f.fs.String("image", "", "image id")
	to := f.fs.Int("to", 0, "zero-based page position")
	if err := f.parse(args, true); err != nil {
		return err
	}
	_, err := a.svc.MoveImage(ctx, *f.folder, *f.test, *image, *to)
	return err
}

func (a *app) reorderImages(ctx context.Context, args []string) error {
	f := newTestFlags("image-reorder")
	if err := f.parse(args, true); err != nil {
		return err
	}
	_, err := a.svc.ReorderImages(ctx, *f.folder, *f.test, f.fs.Args())
	return err
}

func (a *app) rotateImage(ctx context.Context, args []string) error {
	f := newTestFlags("image-rotate")
	image := f.fs.String("image", "", "image id")
	degrees := f.fs.Int("degrees", 90, "clockwise turn, a multiple of 90")
	if err := f.parse(args, true); err != nil {
		return err
	}
	_, err := a.svc.RotateImage(ctx, *f.folder, *f.test, *image, *degrees)
	return err
}

func (a *app) generate(ctx context.Context, args []string) error {
	f := newTestFlags("generate")
	output := f.fs.String("o", "", "output file, defaults to the test name in the output directory")
	if err := f.parse(args, true); err != nil {
		return err
	}

	doc, err := a.svc.GenerateDocument(ctx, *f.folder, *f.test)
	if err != nil {
		return err
	}

	path := *output
	if path == "" {
		path = filepath.Join(a.outputDir, doc.Filename)
	}
	if err := os.WriteFile(path, doc.Bytes, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "%s (%d pages)\n", path, doc.Pages)
	return nil
}

func (a *app) watch(ctx context.Context, _ []string) error {
	fileSlot, ok := a.slot.(*persistence.FileSlot)
	if !ok {
		return errors.New("watch: only the file store can be watched")
	}

	if err := a.listFolders(ctx, nil); err != nil {
		return err
	}
	log.Info().Str("path", fileSlot.Path()).Msg("Watching record store")
	return fileSlot.Watch(ctx, 200*time.Millisecond, func() {
		fmt.Fprintln(a.out, strings.Repeat("-", 40))
		if err := a.listFolders(ctx, nil); err != nil {
			log.Error().Err(err).Msg("Failed to list folders")
		}
	})
}

func (a *app) reportFailures(paths []string, failures []application.FileFailure) {
	for _, f := range failures {
		log.Warn().Err(f.Err).Str("file", paths[f.Index]).Msg("Skipped file")
	}
}

func readFiles(paths []string) ([][]byte, error) {
	blobs := make([][]byte, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		blobs[i] = data
	}
	return blobs, nil
}
