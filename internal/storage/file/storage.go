package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aliskhannn/thumby/internal/storage"
)

// Storage serves source images from a directory on the local filesystem.
// Every lookup is confined to the base directory.
type Storage struct {
	fs afero.Fs
}

// NewStorage creates a Storage rooted at baseDir.
func NewStorage(baseDir string) (*Storage, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}

	return NewStorageFs(afero.NewBasePathFs(afero.NewOsFs(), abs)), nil
}

// NewStorageFs creates a Storage backed by an arbitrary afero filesystem.
func NewStorageFs(fsys afero.Fs) *Storage {
	return &Storage{fs: fsys}
}

// Load opens the named file for reading.
func (s *Storage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load file %q: %w", name, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat file %q: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to load file %q: %w", name, storage.ErrObjectNotFound)
	}

	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", name, err)
	}

	return f, nil
}
