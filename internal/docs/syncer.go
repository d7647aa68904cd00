package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SyncState is the lifecycle state of a Syncer.
type SyncState int

const (
	StateUnloaded SyncState = iota
	StateLoading
	StateLoaded
	StateSaving
	StateConflict
)

func (s SyncState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateSaving:
		return "saving"
	case StateConflict:
		return "conflict"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// DefaultDatabasePath is where the database lives in the remote store.
const DefaultDatabasePath = "db.json"

// DefaultCommitMessage is used for database writes when none is configured.
const DefaultCommitMessage = "Update data via custdoc"

// Syncer owns the authoritative copy of the Database and the version token
// it was read at. Every Load and Save runs while holding a single gate, so
// at most one remote operation is in flight; further callers queue until
// the gate frees or their context is cancelled.
type Syncer struct {
	store   ContentStore
	path    string
	message string
	logger  Logger
	clock   Clock

	gate *semaphore.Weighted

	mu      sync.Mutex // guards the fields below
	state   SyncState
	db      *Database
	version string
}

// NewSyncer creates a Syncer for the database file at path.
func NewSyncer(store ContentStore, path, message string, logger Logger, clock Clock) *Syncer {
	if path == "" {
		path = DefaultDatabasePath
	}
	if message == "" {
		message = DefaultCommitMessage
	}
	return &Syncer{
		store:   store,
		path:    path,
		message: message,
		logger:  logger.With("component", "sync", "path", path),
		clock:   clock,
		gate:    semaphore.NewWeighted(1),
		state:   StateUnloaded,
	}
}

// State returns the current lifecycle state.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the version token held for the next save.
// Empty means the database did not exist when last read.
func (s *Syncer) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns a copy of the last loaded or saved database,
// or nil when nothing has been loaded.
func (s *Syncer) Snapshot() *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clone()
}

func (s *Syncer) setState(st SyncState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Load reads the database and its version. A missing file yields an empty
// database and an empty version. A file that does not parse fails with
// ErrCorruptData; it is never replaced by an empty database.
func (s *Syncer) Load(ctx context.Context) (*Database, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	return s.load(ctx)
}

func (s *Syncer) load(ctx context.Context) (*Database, error) {
	s.mu.Lock()
	prev := s.state
	s.state = StateLoading
	s.mu.Unlock()

	db, version, err := s.read(ctx)
	if err != nil {
		s.setState(prev)
		return nil, err
	}

	s.mu.Lock()
	s.db = db
	s.version = version
	s.state = StateLoaded
	s.mu.Unlock()

	s.logger.Info("database loaded", "version", version, "customers", len(db.Customers))
	return db.Clone(), nil
}

func (s *Syncer) read(ctx context.Context) (*Database, string, error) {
	content, version, err := s.store.ReadFile(ctx, s.path)
	if errors.Is(err, ErrNotFound) {
		return NewDatabase(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading database: %w", err)
	}

	db, err := Decode(content)
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", s.path, err)
	}
	return db, version, nil
}

// Save writes db conditionally on the held version. On conflict nothing is
// merged: the Syncer enters StateConflict and every Save fails with
// ErrReloadRequired until Load succeeds.
func (s *Syncer) Save(ctx context.Context, db *Database) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)

	return s.save(ctx, db)
}

// Update loads the database if needed, applies fn to a private copy and
// saves the result, holding the gate throughout so no other Load or Save
// can interleave. If fn returns an error nothing is written.
func (s *Syncer) Update(ctx context.Context, fn func(db *Database) error) (*Database, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	s.mu.Lock()
	st := s.state
	working := s.db.Clone()
	s.mu.Unlock()

	switch st {
	case StateConflict:
		return nil, ErrReloadRequired
	case StateUnloaded:
		db, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		working = db
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	if err := s.save(ctx, working); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

func (s *Syncer) save(ctx context.Context, db *Database) error {
	s.mu.Lock()
	if s.state == StateConflict {
		s.mu.Unlock()
		return ErrReloadRequired
	}
	version := s.version
	s.state = StateSaving
	s.mu.Unlock()

	out := db.Clone()
	out.LastUpdated = s.clock.Now()
	content, err := Encode(out)
	if err != nil {
		s.setState(StateLoaded)
		return err
	}

	newVersion, err := s.store.WriteFile(ctx, s.path, content, version, s.message)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.setState(StateConflict)
			s.logger.Warn("save rejected, reload required", "version", version)
			return fmt.Errorf("saving database: %w", err)
		}
		s.setState(StateLoaded)
		return fmt.Errorf("saving database: %w", err)
	}

	s.mu.Lock()
	s.db = out
	s.version = newVersion
	s.state = StateLoaded
	s.mu.Unlock()

	s.confirm(ctx, content, newVersion)
	s.logger.Info("database saved", "previous", version, "version", newVersion)
	return nil
}

// confirm re-reads the file after a write. The result is advisory: a
// version that differs from the one the write returned means another
// writer got in between, so it is never adopted (the next Save conflicts
// instead). It is adopted only when the write returned no version and the
// re-read content is byte-identical to what was written.
func (s *Syncer) confirm(ctx context.Context, written []byte, writtenVersion string) {
	content, version, err := s.store.ReadFile(ctx, s.path)
	if err != nil {
		s.logger.Warn("post-save re-read failed", "error", err)
		if writtenVersion == "" {
			s.setState(StateConflict)
		}
		return
	}

	switch {
	case version == writtenVersion:
		return
	case writtenVersion == "" && bytes.Equal(content, written):
		s.mu.Lock()
		s.version = version
		s.mu.Unlock()
	case writtenVersion == "":
		s.logger.Warn("remote changed after save and write returned no version", "remote", version)
		s.setState(StateConflict)
	default:
		s.logger.Warn("remote changed after save", "written", writtenVersion, "remote", version)
	}
}
