package docs

import (
	"context"
	"io"
	"time"
)

// ContentStore is the remote content-addressed file store that persists the
// database and attachment blobs. Versions are opaque content hashes; the
// empty string means "no object".
type ContentStore interface {
	// ReadFile returns the content and current version of path.
	// A missing path is reported as ErrNotFound.
	ReadFile(ctx context.Context, path string) (content []byte, version string, err error)

	// WriteFile creates or updates path and returns the new version.
	// A non-empty version must match the stored one; an empty version
	// requires that path does not exist yet. Either mismatch is ErrConflict.
	WriteFile(ctx context.Context, path string, content []byte, version string, message string) (string, error)

	// DeleteFile resolves the current version of path and removes it.
	// A missing path is reported as ErrNotFound.
	DeleteFile(ctx context.Context, path string, message string) error
}

// Compressor performs the two transforming attachment strategies.
// Errors are never fatal for an upload; the caller keeps the original bytes.
type Compressor interface {
	// RecompressImage re-encodes a raster image bounded to a maximum
	// dimension and a target size.
	RecompressImage(ctx context.Context, f File) ([]byte, error)

	// Archive wraps f in a single-entry deflate archive.
	Archive(ctx context.Context, f File) ([]byte, error)

	// Extract returns the content of the single entry of an archive
	// produced by Archive.
	Extract(payload []byte) ([]byte, error)
}

// Encryptor handles at-rest encryption of attachment payloads.
// Encryption uses the public key only. Decryption requires unlocking the
// private key, producing a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Operation is one journaled CLI operation.
type Operation struct {
	ID            int64
	Operation     string
	Parameters    string
	Status        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	VersionBefore string
	VersionAfter  string
	Message       string
}

// Journal records operations performed against the remote store.
type Journal interface {
	// CreateOperation records the start of an operation and assigns its ID.
	CreateOperation(operation, parameters, versionBefore string, startedAt time.Time) (*Operation, error)

	// FinishOperation records the outcome of an operation.
	FinishOperation(id int64, status, versionAfter, message string, finishedAt time.Time) error

	// RecentOperations returns up to limit operations, newest first.
	RecentOperations(limit int) ([]*Operation, error)

	// Close closes the journal.
	Close() error
}
