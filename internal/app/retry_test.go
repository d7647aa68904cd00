package app

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"custdoc/internal/docs"
	"custdoc/internal/store"
)

// flakyStore fails the first n calls with a transient error.
type flakyStore struct {
	*store.MemoryStore
	failures int
	calls    int
	err      error
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	if err := f.fail(); err != nil {
		return nil, "", err
	}
	return f.MemoryStore.ReadFile(ctx, path)
}

func (f *flakyStore) WriteFile(ctx context.Context, path string, content []byte, version, message string) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.MemoryStore.WriteFile(ctx, path, content, version, message)
}

func newTestRetryingStore(next docs.ContentStore, maxRetries int) *retryingStore {
	s := newRetryingStore(next, maxRetries, docs.NewNopLogger())
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s
}

func TestRetryingStore(t *testing.T) {
	ctx := context.Background()
	transient := &docs.TransientError{StatusCode: 503, Message: "Service Unavailable"}

	t.Run("recovers from transient errors", func(t *testing.T) {
		flaky := &flakyStore{MemoryStore: store.NewMemoryStore("test"), failures: 2, err: transient}
		s := newTestRetryingStore(flaky, 3)

		v, err := s.WriteFile(ctx, "db.json", []byte("{}"), "", "init")
		if err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if v == "" {
			t.Error("WriteFile() returned empty version")
		}
		if flaky.calls != 3 {
			t.Errorf("calls = %d, want 3", flaky.calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		flaky := &flakyStore{MemoryStore: store.NewMemoryStore("test"), failures: 10, err: transient}
		s := newTestRetryingStore(flaky, 3)

		_, _, err := s.ReadFile(ctx, "db.json")
		if !docs.IsTransient(err) {
			t.Fatalf("ReadFile() error = %v, want transient", err)
		}
		if flaky.calls != 4 {
			t.Errorf("calls = %d, want 4", flaky.calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		flaky := &flakyStore{MemoryStore: store.NewMemoryStore("test")}
		s := newTestRetryingStore(flaky, 3)

		_, _, err := s.ReadFile(ctx, "missing.json")
		if !errors.Is(err, docs.ErrNotFound) {
			t.Fatalf("ReadFile() error = %v, want ErrNotFound", err)
		}
		if flaky.calls != 1 {
			t.Errorf("calls = %d, want 1", flaky.calls)
		}
	})

	t.Run("conflict is returned unchanged", func(t *testing.T) {
		mem := store.NewMemoryStore("test")
		if _, err := mem.WriteFile(ctx, "db.json", []byte("{}"), "", "init"); err != nil {
			t.Fatal(err)
		}
		s := newTestRetryingStore(mem, 3)

		_, err := s.WriteFile(ctx, "db.json", []byte("{}"), "", "init")
		var ce *docs.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("WriteFile() error = %v, want ConflictError", err)
		}
	})

	t.Run("disabled when max retries is zero", func(t *testing.T) {
		flaky := &flakyStore{MemoryStore: store.NewMemoryStore("test"), failures: 1, err: transient}
		s := newTestRetryingStore(flaky, 0)

		if _, _, err := s.ReadFile(ctx, "db.json"); !docs.IsTransient(err) {
			t.Fatalf("ReadFile() error = %v, want transient", err)
		}
		if flaky.calls != 1 {
			t.Errorf("calls = %d, want 1", flaky.calls)
		}
	})
}
