package docs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the store rejected the credential.
	ErrUnauthorized = errors.New("unauthorized: token invalid or expired")
	// ErrNotFound means the path does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write or delete lost against another writer.
	ErrConflict = errors.New("version conflict")
	// ErrTooLarge means an attachment exceeds the size ceiling after compression.
	ErrTooLarge = errors.New("attachment too large")
	// ErrCorruptData means the database file could not be parsed.
	ErrCorruptData = errors.New("database file is corrupt or malformed")
	// ErrReloadRequired is returned by Save after a conflict until Load succeeds.
	ErrReloadRequired = errors.New("reload required after conflict")

	ErrCustomerNotFound   = errors.New("customer not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// TransientError is any other failed response from the store.
// Message is passed through from the host.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote store error: %s", e.Message)
	}
	return fmt.Sprintf("remote store error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConflictError describes a rejected conditional write.
type ConflictError struct {
	Path    string
	Version string // the version the caller presented; empty for create
}

func (e *ConflictError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("version conflict: %s already exists", e.Path)
	}
	return fmt.Sprintf("version conflict: %s is no longer at %s", e.Path, e.Version)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TooLargeError reports the attachment that was rejected by the size gate.
type TooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("attachment too large: %s is %d bytes after compression (limit %d)", e.Name, e.Size, e.Limit)
}

func (e *TooLargeError) Is(target error) bool {
	return target == ErrTooLarge
}
