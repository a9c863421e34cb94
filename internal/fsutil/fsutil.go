// Package fsutil holds the file helpers pipeline stages use to read and write
// artifacts. Writes are atomic: parent directories are created first and the
// target only appears once its content is complete.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrDecode     = errors.New("decode failed")
	ErrEncode     = errors.New("encode failed")
)

// PathError records the operation and path of a failed file helper call.
// errors.Is matches ErrNotFound and ErrPermission for the corresponding OS failures.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func (e *PathError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return errors.Is(e.Err, fs.ErrNotExist)
	case ErrPermission:
		return errors.Is(e.Err, fs.ErrPermission)
	}
	return false
}

const (
	DirPerm  fs.FileMode = 0o755
	FilePerm fs.FileMode = 0o644
)

// WriteFileAtomic writes path through a temporary file in the same directory and
// renames it into place. On any failure the temporary file is removed and path is untouched.
func WriteFileAtomic(path string, perm fs.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return &PathError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &PathError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return &PathError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &PathError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		return &PathError{Op: "chmod", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PathError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &PathError{Op: "rename", Path: path, Err: err}
	}
	committed = true
	return nil
}

// WriteFile writes data atomically.
func WriteFile(path string, data []byte) error {
	return WriteFileAtomic(path, FilePerm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func ReadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &PathError{Op: "read", Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &PathError{Op: "read", Path: path, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return nil
}

func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return &PathError{Op: "write", Path: path, Err: fmt.Errorf("%w: %w", ErrEncode, err)}
	}
	return WriteFile(path, data)
}

// CopyFile copies src to dst atomically, creating dst's parent directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &PathError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	return WriteFileAtomic(dst, FilePerm, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &PathError{Op: "stat", Path: path, Err: err}
}
