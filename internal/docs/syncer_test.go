package docs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custdoc/internal/docs"
	"custdoc/internal/store"
	"custdoc/internal/testutil"
)

func newSyncer(st docs.ContentStore) (*docs.Syncer, *testutil.RecordingLogger) {
	logger := testutil.NewRecordingLogger()
	return docs.NewSyncer(st, docs.DefaultDatabasePath, "", logger, testutil.FixedClock()), logger
}

func addCustomer(db *docs.Database, id, name string) {
	db.PrependCustomer(docs.NewCustomer(id, name, "", fixedTime))
}

func TestSyncer_EmptyRepository(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	s, _ := newSyncer(st)

	db, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(db.Customers) != 0 {
		t.Errorf("got %d customers, want 0", len(db.Customers))
	}
	if s.Version() != "" {
		t.Errorf("Version() = %q, want empty", s.Version())
	}
	if s.State() != docs.StateLoaded {
		t.Errorf("State() = %v, want loaded", s.State())
	}

	addCustomer(db, "c-1", "Erste")
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	v1 := s.Version()
	if v1 == "" {
		t.Fatal("Version() empty after first save")
	}

	// A second client loads the file at v1.
	other, _ := newSyncer(st)
	if _, err := other.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	addCustomer(db, "c-2", "Zweite")
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	v2 := s.Version()
	if v2 == "" || v2 == v1 {
		t.Fatalf("Version() after second save = %q, want new non-empty version (v1 = %q)", v2, v1)
	}

	err = other.Save(ctx, docs.NewDatabase())
	if !errors.Is(err, docs.ErrConflict) {
		t.Fatalf("Save() with stale version error = %v, want ErrConflict", err)
	}

	content, _, err := st.ReadFile(ctx, docs.DefaultDatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	remote, err := docs.Decode(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(remote.Customers) != 2 {
		t.Errorf("remote has %d customers, want 2 (stale save must not win)", len(remote.Customers))
	}
}

func TestSyncer_ConflictRequiresReload(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	if _, err := st.WriteFile(ctx, docs.DefaultDatabasePath, []byte(`{"customers":[]}`), "", "seed"); err != nil {
		t.Fatal(err)
	}

	a, _ := newSyncer(st)
	b, logger := newSyncer(st)
	dbA, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("A.Load() error = %v", err)
	}
	dbB, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("B.Load() error = %v", err)
	}

	addCustomer(dbA, "a-1", "from A")
	if err := a.Save(ctx, dbA); err != nil {
		t.Fatalf("A.Save() error = %v", err)
	}

	addCustomer(dbB, "b-1", "from B")
	err = b.Save(ctx, dbB)
	if !errors.Is(err, docs.ErrConflict) {
		t.Fatalf("B.Save() error = %v, want ErrConflict", err)
	}
	if b.State() != docs.StateConflict {
		t.Errorf("State() = %v, want conflict", b.State())
	}
	if !logger.Contains("WARN", "reload required") {
		t.Error("conflict was not logged at warn level")
	}

	if err := b.Save(ctx, dbB); !errors.Is(err, docs.ErrReloadRequired) {
		t.Errorf("Save() in conflict error = %v, want ErrReloadRequired", err)
	}
	if _, err := b.Update(ctx, func(*docs.Database) error { return nil }); !errors.Is(err, docs.ErrReloadRequired) {
		t.Errorf("Update() in conflict error = %v, want ErrReloadRequired", err)
	}

	reloaded, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("B.Load() after conflict error = %v", err)
	}
	if reloaded.FindCustomer("a-1") == nil {
		t.Error("reload did not pick up A's customer")
	}
	addCustomer(reloaded, "b-1", "from B")
	if err := b.Save(ctx, reloaded); err != nil {
		t.Fatalf("B.Save() after reload error = %v", err)
	}

	final, err := a.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Customers) != 2 {
		t.Errorf("got %d customers, want 2", len(final.Customers))
	}
}

func TestSyncer_CorruptDataIsNotReplaced(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	if _, err := st.WriteFile(ctx, docs.DefaultDatabasePath, []byte("{not json"), "", "seed"); err != nil {
		t.Fatal(err)
	}
	s, _ := newSyncer(st)

	if _, err := s.Load(ctx); !errors.Is(err, docs.ErrCorruptData) {
		t.Fatalf("Load() error = %v, want ErrCorruptData", err)
	}
	if s.State() != docs.StateUnloaded {
		t.Errorf("State() = %v, want unloaded", s.State())
	}
	if s.Snapshot() != nil {
		t.Error("Snapshot() should be nil after failed load")
	}

	_, err := s.Update(ctx, func(db *docs.Database) error {
		addCustomer(db, "c-1", "x")
		return nil
	})
	if !errors.Is(err, docs.ErrCorruptData) {
		t.Errorf("Update() error = %v, want ErrCorruptData", err)
	}
	content, _, _ := st.ReadFile(ctx, docs.DefaultDatabasePath)
	if string(content) != "{not json" {
		t.Errorf("corrupt file was overwritten with %q", content)
	}
}

func TestSyncer_SaveSetsLastUpdated(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	s, _ := newSyncer(st)

	db, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got := s.Snapshot().LastUpdated; !got.Equal(fixedTime) {
		t.Errorf("LastUpdated = %v, want %v", got, fixedTime)
	}
	if !db.LastUpdated.IsZero() {
		t.Error("Save() modified the caller's database")
	}
}

func TestSyncer_WriteWithoutVersion(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	st.OmitWriteVersion = true
	s, _ := newSyncer(st)

	db, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	content, version, err := st.ReadFile(ctx, docs.DefaultDatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	if s.Version() != version {
		t.Errorf("Version() = %q, want re-read version %q", s.Version(), version)
	}
	if version != store.BlobHash(content) {
		t.Errorf("version %q is not the blob hash of the content", version)
	}

	addCustomer(db, "c-1", "x")
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
}

// racingStore lets another writer commit right after every successful write
// to the database path.
type racingStore struct {
	*store.MemoryStore
	once sync.Once
}

func (r *racingStore) WriteFile(ctx context.Context, path string, content []byte, version, message string) (string, error) {
	v, err := r.MemoryStore.WriteFile(ctx, path, content, version, message)
	if err != nil || path != docs.DefaultDatabasePath {
		return v, err
	}
	r.once.Do(func() {
		_, err = r.MemoryStore.WriteFile(ctx, path, []byte(`{"customers":[]}`), v, "someone else")
	})
	return v, err
}

func TestSyncer_RemoteChangedAfterSave(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{MemoryStore: testutil.NewTestStore()}
	s, logger := newSyncer(st)

	db, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	addCustomer(db, "c-1", "x")
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if !logger.Contains("WARN", "remote changed after save") {
		t.Error("expected warning about remote change after save")
	}
	_, remote, err := st.ReadFile(ctx, docs.DefaultDatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	if s.Version() == remote {
		t.Error("Syncer adopted the version of another writer")
	}

	if err := s.Save(ctx, db); !errors.Is(err, docs.ErrConflict) {
		t.Errorf("next Save() error = %v, want ErrConflict", err)
	}
}

func TestSyncer_TransientSaveKeepsState(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore()
	s, _ := newSyncer(st)

	db, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	st.FailOn("write", docs.DefaultDatabasePath, &docs.TransientError{StatusCode: 502, Message: "Bad Gateway"})

	err = s.Save(ctx, db)
	if !docs.IsTransient(err) {
		t.Fatalf("Save() error = %v, want transient", err)
	}
	if s.State() != docs.StateLoaded {
		t.Errorf("State() = %v, want loaded", s.State())
	}

	st.FailOn("write", docs.DefaultDatabasePath, nil)
	if err := s.Save(ctx, db); err != nil {
		t.Fatalf("Save() after transient failure error = %v", err)
	}
}

func TestSyncer_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("loads on first use", func(t *testing.T) {
		s, _ := newSyncer(testutil.NewTestStore())

		db, err := s.Update(ctx, func(db *docs.Database) error {
			addCustomer(db, "c-1", "x")
			return nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if db.FindCustomer("c-1") == nil {
			t.Error("Update() result is missing the new customer")
		}
	})

	t.Run("failed mutation writes nothing", func(t *testing.T) {
		st := testutil.NewTestStore()
		s, _ := newSyncer(st)
		errBoom := errors.New("boom")

		_, err := s.Update(ctx, func(db *docs.Database) error {
			addCustomer(db, "c-1", "x")
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Fatalf("Update() error = %v, want %v", err, errBoom)
		}
		if st.Writes() != 0 {
			t.Errorf("store saw %d writes, want 0", st.Writes())
		}
		if s.Snapshot().FindCustomer("c-1") != nil {
			t.Error("failed mutation leaked into the held database")
		}
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		st := testutil.NewTestStore()
		s, _ := newSyncer(st)
		ids := testutil.NewStubIDGenerator()

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			id := ids.New()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, func(db *docs.Database) error {
					addCustomer(db, id, id)
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}
		if got := len(s.Snapshot().Customers); got != 10 {
			t.Errorf("got %d customers, want 10", got)
		}
		if st.Writes() != 10 {
			t.Errorf("store saw %d writes, want 10", st.Writes())
		}
	})
}

// blockingStore holds every read until release is closed.
type blockingStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryStore.ReadFile(ctx, path)
}

func TestSyncer_GateQueuesCallers(t *testing.T) {
	st := &blockingStore{
		MemoryStore: testutil.NewTestStore(),
		entered:     make(chan struct{}, 2),
		release:     make(chan struct{}),
	}
	s, _ := newSyncer(st)

	done := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background())
		done <- err
	}()
	<-st.entered

	if s.State() != docs.StateLoading {
		t.Errorf("State() = %v, want loading", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Load(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued Load() error = %v, want DeadlineExceeded", err)
	}

	close(st.release)
	if err := <-done; err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	if s.State() != docs.StateLoaded {
		t.Errorf("State() = %v, want loaded", s.State())
	}
}
