package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dfryer1193/testprint/internal/config"
	"github.com/dfryer1193/testprint/internal/metrics"
)

func newTestApp(t *testing.T, backend string) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = backend
	cfg.Store.Path = filepath.Join(t.TempDir(), "store")
	cfg.Document.OutputDir = t.TempDir()

	a, closeStore, err := newApp(context.Background(), cfg, metrics.New())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { closeStore() })

	var out bytes.Buffer
	a.out = &out
	return a, &out
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return path
}

// lastLine returns the final line written to out and resets it
func lastLine(out *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	out.Reset()
	return lines[len(lines)-1]
}

func TestCommands_EndToEnd(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite, config.BackendBolt, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			a, out := newTestApp(t, backend)
			dir := t.TempDir()

			if err := a.dispatch(ctx, "folder-create", []string{"Year 9 Maths"}); err != nil {
				t.Fatalf("folder-create error = %v", err)
			}
			folderID := lastLine(out)

			files := []string{
				writePNG(t, dir, "p1.png", 40, 60),
				filepath.Join(dir, "notes.txt"),
				writePNG(t, dir, "p2.png", 60, 40),
			}
			if err := os.WriteFile(files[1], []byte("not a picture"), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			args := append([]string{"-folder", folderID, "-name", "Fractions quiz"}, files...)
			if err := a.dispatch(ctx, "test-create", args); err != nil {
				t.Fatalf("test-create error = %v", err)
			}
			testID := lastLine(out)

			if err := a.dispatch(ctx, "folders", nil); err != nil {
				t.Fatalf("folders error = %v", err)
			}
			listing := out.String()
			out.Reset()
			if !strings.Contains(listing, "Year 9 Maths") || !strings.Contains(listing, "Fractions quiz") {
				t.Errorf("listing missing entries:\n%s", listing)
			}

			if err := a.dispatch(ctx, "folders", []string{"-search", "biology"}); err != nil {
				t.Fatalf("folders -search error = %v", err)
			}
			filtered := out.String()
			out.Reset()
			if strings.Contains(filtered, "Year 9 Maths") {
				t.Errorf("search for another name still lists the folder:\n%s", filtered)
			}

			if err := a.dispatch(ctx, "generate", []string{"-folder", folderID, "-test", testID}); err != nil {
				t.Fatalf("generate error = %v", err)
			}
			if !strings.Contains(lastLine(out), "(2 pages)") {
				t.Error("generate did not report two pages")
			}

			data, err := os.ReadFile(filepath.Join(a.outputDir, "Fractions_quiz.pdf"))
			if err != nil {
				t.Fatalf("generated file missing: %v", err)
			}
			if !bytes.HasPrefix(data, []byte("%PDF-")) {
				t.Error("generated file is not a PDF")
			}

			if err := a.dispatch(ctx, "folder-delete", []string{folderID}); err != nil {
				t.Fatalf("folder-delete error = %v", err)
			}
			if err := a.dispatch(ctx, "generate", []string{"-folder", folderID, "-test", testID}); err == nil {
				t.Error("generate after folder-delete should fail")
			}
		})
	}
}

func TestCommands_Errors(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, config.BackendMemory)

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{"unknown command", "explode", nil},
		{"folder-create without name", "folder-create", nil},
		{"test flags missing", "test-delete", []string{"-folder", "x"}},
		{"folder flag missing", "image-add", []string{"-test", "x", "a.png"}},
		{"unreadable file", "test-create", []string{"-folder", "x", "-name", "Q", "/does/not/exist.png"}},
		{"watch on memory store", "watch", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.dispatch(ctx, tt.command, tt.args); err == nil {
				t.Errorf("%s %v should fail", tt.command, tt.args)
			}
		})
	}
}
