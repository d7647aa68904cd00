package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"custdoc/internal/docs"
)

// retryingStore retries store calls that fail with a TransientError.
// Conflicts, missing files and credential errors are returned at once.
type retryingStore struct {
	next       docs.ContentStore
	maxRetries int
	logger     docs.Logger
	newBackOff func() backoff.BackOff
}

func newRetryingStore(next docs.ContentStore, maxRetries int, logger docs.Logger) *retryingStore {
	return &retryingStore{
		next:       next,
		maxRetries: maxRetries,
		logger:     logger.With("component", "retry"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

func (s *retryingStore) retry(ctx context.Context, op, path string, fn func() error) error {
	if s.maxRetries <= 0 {
		return fn()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries)), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !docs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.logger.Warn("transient store error, retrying", "op", op, "path", path, "wait", wait, "error", err)
	})
}

func (s *retryingStore) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	var (
		content []byte
		version string
	)
	err := s.retry(ctx, "read", path, func() error {
		var err error
		content, version, err = s.next.ReadFile(ctx, path)
		return err
	})
	return content, version, err
}

// WriteFile retries a conditional write. A write that reached the host
// before its response was lost comes back as a conflict on retry, which the
// caller resolves by reloading.
func (s *retryingStore) WriteFile(ctx context.Context, path string, content []byte, version string, message string) (string, error) {
	var newVersion string
	err := s.retry(ctx, "write", path, func() error {
		var err error
		newVersion, err = s.next.WriteFile(ctx, path, content, version, message)
		return err
	})
	return newVersion, err
}

func (s *retryingStore) DeleteFile(ctx context.Context, path string, message string) error {
	return s.retry(ctx, "delete", path, func() error {
		return s.next.DeleteFile(ctx, path, message)
	})
}

var _ docs.ContentStore = (*retryingStore)(nil)
