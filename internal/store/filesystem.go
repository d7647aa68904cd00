package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"custdoc/internal/docs"
)

// FileSystemStore is a directory-backed implementation of docs.ContentStore.
// Each store path maps to a file under root; the version of a file is the
// git blob hash of its content:
//
//	<root>/
//	  db.json
//	  attachments/
//	    <customerID>/
//	      <name>
//
// Conditional writes are checked and applied under a mutex, so they are
// atomic only within one process.
type FileSystemStore struct {
	name string
	root string
	mu   sync.Mutex
}

// NewFileSystemStore creates a store rooted at the given directory.
func NewFileSystemStore(name, root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{name: name, root: root}, nil
}

// resolve maps a store path to a file path, rejecting anything that would
// escape root. Dots inside a name ("report..v2.pdf") are fine.
func (s *FileSystemStore) resolve(p string) (string, error) {
	rel := filepath.FromSlash(path.Clean(p))
	if p == "" || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid store path: %q", p)
	}
	return filepath.Join(s.root, rel), nil
}

// ReadFile returns the content of path and its blob hash.
func (s *FileSystemStore) ReadFile(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", docs.ErrNotFound, p)
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	return data, BlobHash(data), nil
}

// WriteFile creates or updates path when version matches the current hash.
func (s *FileSystemStore) WriteFile(ctx context.Context, p string, content []byte, version string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentVersion(full)
	if err != nil {
		return "", err
	}
	if current != version {
		return "", &docs.ConflictError{Path: p, Version: version}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeAtomic(full, bytes.NewReader(content), int64(len(content))); err != nil {
		return "", err
	}
	return BlobHash(content), nil
}

// DeleteFile removes path.
func (s *FileSystemStore) DeleteFile(ctx context.Context, p string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", docs.ErrNotFound, p)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the store root is an accessible directory.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store root is not a directory: %s", s.root)
	}
	return nil
}

func (s *FileSystemStore) currentVersion(full string) (string, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return BlobHash(data), nil
}

// writeAtomic writes data from r to destPath using a temp file and rename.
func writeAtomic(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FileSystemStore implements docs.ContentStore
var _ docs.ContentStore = (*FileSystemStore)(nil)
