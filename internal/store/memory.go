package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"custdoc/internal/docs"
)

// MemoryStore is an in-memory implementation of docs.ContentStore with the
// same conditional-write semantics as the remote host. It is meant for tests
// and can inject failures per operation and path.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	name     string
	files    map[string][]byte // path -> content
	versions map[string]string // path -> blob hash
	failures map[string]error  // "op:path" -> injected error
	writes   int

	// OmitWriteVersion makes WriteFile return an empty version, like a host
	// whose write response does not carry the new hash.
	OmitWriteVersion bool

	mu sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store with the given name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:     name,
		files:    make(map[string][]byte),
		versions: make(map[string]string),
		failures: make(map[string]error),
	}
}

func failureKey(op, path string) string {
	return op + ":" + path
}

// FailOn makes every subsequent op ("read", "write", "delete") on path fail
// with err. A nil err clears the failure.
func (m *MemoryStore) FailOn(op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, failureKey(op, path))
		return
	}
	m.failures[failureKey(op, path)] = err
}

// ReadFile returns the content and version stored at path.
func (m *MemoryStore) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures[failureKey("read", path)]; err != nil {
		return nil, "", err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	}
	return append([]byte(nil), data...), m.versions[path], nil
}

// WriteFile creates or updates path if version matches the stored one.
func (m *MemoryStore) WriteFile(ctx context.Context, path string, content []byte, version string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[failureKey("write", path)]; err != nil {
		return "", err
	}
	if current := m.versions[path]; current != version {
		return "", &docs.ConflictError{Path: path, Version: version}
	}

	newVersion := BlobHash(content)
	m.files[path] = append([]byte(nil), content...)
	m.versions[path] = newVersion
	m.writes++
	if m.OmitWriteVersion {
		return "", nil
	}
	return newVersion, nil
}

// DeleteFile removes path.
func (m *MemoryStore) DeleteFile(ctx context.Context, path string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[failureKey("delete", path)]; err != nil {
		return err
	}
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	}
	delete(m.files, path)
	delete(m.versions, path)
	return nil
}

// Has reports whether path exists.
func (m *MemoryStore) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

// Paths lists stored paths with the given prefix, sorted.
func (m *MemoryStore) Paths(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Writes returns the number of successful writes.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Compile-time check that MemoryStore implements docs.ContentStore
var _ docs.ContentStore = (*MemoryStore)(nil)
