package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clinicledger/costing/internal/domain/providers"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// FilesystemArchive stores exports as plain files under a root directory.
// Keys map to slash-separated relative paths.
type FilesystemArchive struct {
	root string
}

var _ providers.ExportArchive = (*FilesystemArchive)(nil)

// NewFilesystemArchive creates the root directory if needed
func NewFilesystemArchive(root string) (*FilesystemArchive, error) {
	if root == "" {
		root = "./exports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &FilesystemArchive{root: root}, nil
}

// Driver names the archive backend
func (a *FilesystemArchive) Driver() string { return DriverFilesystem }

// Put writes data atomically, replacing any existing file
func (a *FilesystemArchive) Put(ctx context.Context, key string, data []byte, contentType string) (providers.ArchivedObject, error) {
	if err := ctx.Err(); err != nil {
		return providers.ArchivedObject{}, err
	}
	path, err := a.pathFor(key)
	if err != nil {
		return providers.ArchivedObject{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return providers.ArchivedObject{}, fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return providers.ArchivedObject{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return providers.ArchivedObject{}, fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return providers.ArchivedObject{}, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return providers.ArchivedObject{}, fmt.Errorf("failed to move export into place: %w", err)
	}

	return providers.ArchivedObject{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		Location:    "file://" + filepath.ToSlash(path),
	}, nil
}

// Get reads the file stored under key
func (a *FilesystemArchive) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := a.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("archived export %s not found", key))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return data, nil
}

// List returns every key under prefix in lexical order
func (a *FilesystemArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *FilesystemArchive) pathFor(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.root, filepath.FromSlash(clean)), nil
}

// sanitizeKey rejects keys that are empty, absolute or escape the root
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", apperrors.NewValidationError("archive key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid archive key %q", key))
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}
