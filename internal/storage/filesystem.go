package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rmitchellscott/tankobon/internal/logging"
	"github.com/rmitchellscott/tankobon/internal/security"
)

// FilesystemBackend stores objects as files below basePath.
type FilesystemBackend struct {
	basePath string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath}
}

func (fs *FilesystemBackend) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	dest, err := fs.keyToPath(key)
	if err != nil {
		return fmt.Errorf("invalid storage key %s: %w", key, err)
	}

	file, err := security.SafeCreate(dest)
	if err != nil {
		logging.Logf("[STORAGE] ERROR: Failed to create file %s: %v", dest, err)
		return fmt.Errorf("failed to create file %s: %w", key, err)
	}

	if _, err := io.Copy(file, data); err != nil {
		file.Close()
		logging.Logf("[STORAGE] ERROR: Failed to write data to %s: %v", dest, err)
		return fmt.Errorf("failed to write data to %s: %w", key, err)
	}
	return file.Close()
}

func (fs *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := fs.keyToPath(key)
	if err != nil {
		return nil, fmt.Errorf("invalid storage key %s: %w", key, err)
	}

	file, err := os.Open(src.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", key, err)
	}
	return file, nil
}

func (fs *FilesystemBackend) Delete(ctx context.Context, key string) error {
	target, err := fs.keyToPath(key)
	if err != nil {
		return fmt.Errorf("invalid storage key %s: %w", key, err)
	}

	if err := os.Remove(target.String()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List walks the directory holding prefix. Prefixes that end mid-name
// ("library/s/ch") match by string prefix.
func (fs *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	root := fs.basePath
	if dir := strings.TrimSuffix(prefix[:strings.LastIndex(prefix, "/")+1], "/"); dir != "" {
		sp, err := fs.keyToPath(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid storage prefix %s: %w", prefix, err)
		}
		root = sp.String()
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return keys, nil
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if key := fs.pathToKey(path); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (fs *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	target, err := fs.keyToPath(key)
	if err != nil {
		return false, fmt.Errorf("invalid storage key %s: %w", key, err)
	}
	return security.SafeStatExists(target), nil
}

func (fs *FilesystemBackend) keyToPath(key string) (*security.SecurePath, error) {
	if err := security.ValidateStorageKey(key); err != nil {
		return nil, err
	}
	return security.NewSecurePath(fs.basePath, key)
}

func (fs *FilesystemBackend) pathToKey(path string) string {
	base, err := filepath.Abs(fs.basePath)
	if err != nil {
		base = fs.basePath
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
