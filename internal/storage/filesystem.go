package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// FileSystem stores objects as files below a root directory.
type FileSystem struct {
	root string
}

func NewFileSystem(root string) (*FileSystem, error) {
	if root == "" {
		return nil, errors.New("file system storage requires a root directory")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root %s: %w", root, err)
	}
	return &FileSystem{root: abs}, nil
}

// Name includes the root, so two directories never share cache keys.
func (f *FileSystem) Name() string {
	return KindFileSystem + ":" + f.root
}

// resolve maps name to a path below root, rejecting names that would
// escape it.
func (f *FileSystem) resolve(op, name string) (string, error) {
	clean := path.Clean(name)
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", &Error{Op: op, Name: name, Err: errors.New("invalid object name")}
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *FileSystem) Exists(_ context.Context, name string) (bool, error) {
	p, err := f.resolve("exists", name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "exists", Name: name, Err: err}
	}
	return true, nil
}

func (f *FileSystem) Open(_ context.Context, name string) ([]byte, error) {
	p, err := f.resolve("open", name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Op: "open", Name: name, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	return data, nil
}

// Save writes to a temporary file next to the target and renames it
// into place, so readers never see a partial object.
func (f *FileSystem) Save(_ context.Context, name string, data []byte) error {
	p, err := f.resolve("save", name)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &Error{Op: "save", Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}

	if err := os.Rename(tmp.Name(), p); err != nil {
		return &Error{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (f *FileSystem) Delete(_ context.Context, name string) error {
	p, err := f.resolve("delete", name)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	return nil
}
