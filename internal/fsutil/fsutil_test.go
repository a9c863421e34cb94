package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	if err := WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content=%q", got)
	}
}

func TestWriteFileAtomic_NoPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	boom := errors.New("boom")

	err := WriteFileAtomic(path, FilePerm, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic_KeepsPreviousContentOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := WriteFile(path, []byte("v1")); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	_ = WriteFileAtomic(path, FilePerm, func(w io.Writer) error { return errors.New("fail") })
	got, _ := os.ReadFile(path)
	if string(got) != "v1" {
		t.Fatalf("content=%q, want v1", got)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	in := map[string]any{"epochs": 10, "layers": []any{64, 32}}
	if err := WriteYAML(path, in); err != nil {
		t.Fatalf("WriteYAML() err=%v", err)
	}
	var out map[string]any
	if err := ReadYAML(path, &out); err != nil {
		t.Fatalf("ReadYAML() err=%v", err)
	}
	if out["epochs"] != 10 {
		t.Fatalf("epochs=%v", out["epochs"])
	}
}

func TestReadYAML_Errors(t *testing.T) {
	dir := t.TempDir()
	var out map[string]any

	err := ReadYAML(filepath.Join(dir, "missing.yaml"), &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("a: [1, 2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = ReadYAML(bad, &out)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("decode error should not match ErrNotFound")
	}
	var pathErr *PathError
	if !errors.As(err, &pathErr) || pathErr.Path != bad {
		t.Fatalf("expected *PathError for %s, got %v", bad, err)
	}
}

func TestCopyFileAndExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(src, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, "export", "20240101000000", "model.bin")
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() err=%v", err)
	}
	ok, err := Exists(dst)
	if err != nil || !ok {
		t.Fatalf("Exists()=%v err=%v", ok, err)
	}
	ok, err = Exists(filepath.Join(dir, "nope"))
	if err != nil || ok {
		t.Fatalf("Exists(nope)=%v err=%v", ok, err)
	}
	if err := CopyFile(filepath.Join(dir, "nope"), dst); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
