package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("void f() {}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func relPaths(files []FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"vadd.cpp",
		"nested/mmult.cc",
		"nested/util.h",
		"vadd_tapa.cpp",
		"build/gen.cpp",
		"README.md",
		"main.go",
	)

	files, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := relPaths(files)
	if len(got) != 2 || got[0] != "nested/mmult.cc" || got[1] != "vadd.cpp" {
		t.Fatalf("files = %v", got)
	}
	for _, f := range files {
		if f.Path == "" || f.Language == "" {
			t.Errorf("incomplete file info %+v", f)
		}
	}

	files, err = Discover(context.Background(), dir, &Options{IncludeHeaders: true, SkipSuffix: "_none"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Errorf("with headers and outputs = %v", relPaths(files))
	}
}

func TestDiscoverSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "k.cpp")
	files, err := Discover(context.Background(), filepath.Join(dir, "k.cpp"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].RelPath != "k.cpp" {
		t.Errorf("files = %+v", files)
	}
}

func TestDiscoverIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.cpp", "legacy/b.cpp", "c_test.cpp")
	if err := os.WriteFile(filepath.Join(dir, ".tapaconvignore"), []byte("# comment\nlegacy\n*_test.cpp\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	files, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := relPaths(files); len(got) != 1 || got[0] != "a.cpp" {
		t.Errorf("files = %v", got)
	}
}

func TestDiscoverCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "k.cpp")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, dir, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
