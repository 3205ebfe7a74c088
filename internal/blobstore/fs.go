// Package blobstore keeps image objects on the local filesystem. Each
// container is a directory under the root path.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pincollector/internal/models"
)

type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

// EnsureContainer creates the container directory if needed.
func (s *FS) EnsureContainer(container string) error {
	const op = "blobstore.EnsureContainer"

	dir, err := s.containerPath(container)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *FS) Exists(ctx context.Context, container string) (bool, error) {
	const op = "blobstore.Exists"

	dir, err := s.containerPath(container)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	return info.IsDir(), nil
}

// Put writes data under key, replacing any existing object atomically.
func (s *FS) Put(ctx context.Context, container, key string, data []byte, contentType string) error {
	const op = "blobstore.Put"

	path, err := s.objectPath(container, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return models.ErrUnavailable.New("%s: container %q does not exist", op, container)
	}

	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	if err := f.Close(); err != nil {
		return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func (s *FS) Get(ctx context.Context, container, key string) ([]byte, error) {
	const op = "blobstore.Get"

	path, err := s.objectPath(container, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrNotFound.New("%s: %s/%s", op, container, key)
	}
	if err != nil {
		return nil, models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	return data, nil
}

func (s *FS) containerPath(container string) (string, error) {
	if !validName(container) {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	return filepath.Join(s.root, container), nil
}

func (s *FS) objectPath(container, key string) (string, error) {
	dir, err := s.containerPath(container)
	if err != nil {
		return "", err
	}
	if !validName(key) {
		return "", models.ErrNotFound.New("invalid object key %q", key)
	}
	return filepath.Join(dir, key), nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}
