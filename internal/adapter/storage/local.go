package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbscout/dbbackup/internal/domain"
)

// LocalStorage serves rclone "local" and "alias" remotes natively. The
// destination directory is resolved under basePath; an empty basePath means
// the directory is used as given.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

func (l *LocalStorage) EnsureDir(ctx context.Context, dest domain.Destination) error {
	if err := os.MkdirAll(l.dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Upload copies into a hidden temporary file and renames it into place, so
// a listing never shows a partially written artifact.
func (l *LocalStorage) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dir := l.dir(dest)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close dest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to publish file: %w", err)
	}
	return nil
}

func (l *LocalStorage) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	entries, err := os.ReadDir(l.dir(dest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

func (l *LocalStorage) Delete(ctx context.Context, dest domain.Destination, name string) error {
	if err := os.Remove(filepath.Join(l.dir(dest), name)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) dir(dest domain.Destination) string {
	if l.basePath == "" {
		return filepath.FromSlash(dest.Dir)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(dest.Dir))
}
