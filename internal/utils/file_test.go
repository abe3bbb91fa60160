package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "sub/c.webp"} {
		path := filepath.Join(dir, name)
		if err := EnsureDir(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListImageFiles(dir)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}

	want := []string{"a.JPG", "b.png", filepath.Join("sub", "c.webp")}
	if len(files) != len(want) {
		t.Fatalf("Expected %d files, got %v", len(want), files)
	}
	for i, w := range want {
		if files[i] != filepath.Join(dir, w) {
			t.Errorf("File %d: expected %s, got %s", i, w, files[i])
		}
	}
}

func TestOutputFilename(t *testing.T) {
	if got := OutputFilename("out", "s1_", "crop", "WEBP"); got != filepath.Join("out", "s1_crop.webp") {
		t.Errorf("Unexpected filename %s", got)
	}
	if got := OutputFilename("out", "", "full", ""); got != filepath.Join("out", "full.jpg") {
		t.Errorf("Unexpected default filename %s", got)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if FileExists(path) {
		t.Error("File should not exist yet")
	}
	os.WriteFile(path, nil, 0o644)
	if !FileExists(path) {
		t.Error("File should exist")
	}
	if FileExists(dir) {
		t.Error("Directory is not a file")
	}
}
