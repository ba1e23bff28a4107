package fsatomic

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileCreatesAndReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("expected %q, got %q", "first", got)
	}

	if err := WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected %q, got %q", "second", got)
	}
}

func TestWriteFileLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("expected exactly the target file to remain, got %v", entries)
	}
}

type doc struct {
	Name string `json:"name"`
}

func TestWriteJSONThenReadJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteJSON(path, doc{Name: "alex"}, 0o644); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out doc
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out.Name != "alex" {
		t.Fatalf("expected %q, got %q", "alex", out.Name)
	}
}

func TestReadJSONMissingFileReportsNotExist(t *testing.T) {
	dir := t.TempDir()
	var out doc
	err := ReadJSON(filepath.Join(dir, "missing.json"), &out)
	if err == nil || !os.IsNotExist(err) {
		t.Fatalf("expected an IsNotExist error, got %v", err)
	}
}
