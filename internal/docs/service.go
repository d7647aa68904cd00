package docs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Service is the orchestration layer used by the CLI. Every mutation is a
// load→mutate→save cycle through the Syncer; attachment blobs go through
// the AttachmentPipeline.
type Service struct {
	syncer   *Syncer
	pipeline *AttachmentPipeline
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a Service with the provided dependencies.
func NewService(syncer *Syncer, pipeline *AttachmentPipeline, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		syncer:   syncer,
		pipeline: pipeline,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Syncer exposes the underlying sync engine.
func (s *Service) Syncer() *Syncer { return s.syncer }

// Load (re)reads the database, discarding any local state.
func (s *Service) Load(ctx context.Context) (*Database, error) {
	return s.syncer.Load(ctx)
}

// Init creates the database file if it does not exist yet.
// It returns true when a new file was written.
func (s *Service) Init(ctx context.Context) (bool, error) {
	db, err := s.syncer.Load(ctx)
	if err != nil {
		return false, err
	}
	if s.syncer.Version() != "" {
		return false, nil
	}
	if err := s.syncer.Save(ctx, db); err != nil {
		return false, err
	}
	s.logger.Info("database initialized")
	return true, nil
}

// Customers returns the customers matching query (all when empty).
func (s *Service) Customers(ctx context.Context, query string) ([]*Customer, error) {
	db, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return db.Search(query), nil
}

// Customer returns one customer by ID.
func (s *Service) Customer(ctx context.Context, id string) (*Customer, error) {
	db, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	c := db.FindCustomer(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}
	return c, nil
}

func (s *Service) current(ctx context.Context) (*Database, error) {
	if s.syncer.State() == StateLoaded {
		return s.syncer.Snapshot(), nil
	}
	return s.syncer.Load(ctx)
}

// AddCustomer creates a customer at the top of the list.
func (s *Service) AddCustomer(ctx context.Context, name, contact string) (*Customer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("customer name is required")
	}
	c := NewCustomer(s.idgen.New(), name, contact, s.clock.Now())
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		db.PrependCustomer(c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding customer: %w", err)
	}
	s.logger.Info("customer added", "id", c.ID)
	return c, nil
}

// UpdateContact replaces a customer's contact details.
func (s *Service) UpdateContact(ctx context.Context, customerID, contact string) error {
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		c, err := findCustomer(db, customerID)
		if err != nil {
			return err
		}
		c.Contact = normalizeText(contact)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	return nil
}

// DeleteCustomer removes a customer with all of its documents and attachment
// metadata, then removes its attachment blobs. Every blob removal is
// attempted; failures are combined.
func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	var removed *Customer
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		c, ok := db.RemoveCustomer(customerID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		removed = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting customer: %w", err)
	}

	var errs error
	for _, a := range removed.Files {
		if err := s.pipeline.Remove(ctx, a.Path); err != nil && !errors.Is(err, ErrNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	s.logger.Info("customer deleted", "id", customerID, "documents", len(removed.Documents), "files", len(removed.Files))
	if errs != nil {
		return fmt.Errorf("customer deleted but attachment cleanup failed: %w", errs)
	}
	return nil
}

// AddDocument appends a document dated today.
func (s *Service) AddDocument(ctx context.Context, customerID, title string, status DocumentStatus) (*Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("document title is required")
	}
	if status == "" {
		status = StatusInProgress
	}
	d := NewDocument(s.idgen.New(), title, status, s.clock.Now())
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		c, err := findCustomer(db, customerID)
		if err != nil {
			return err
		}
		c.AddDocument(d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding document: %w", err)
	}
	return d, nil
}

// SetDocumentStatus changes the status of a document.
func (s *Service) SetDocumentStatus(ctx context.Context, customerID, documentID string, status DocumentStatus) error {
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		c, err := findCustomer(db, customerID)
		if err != nil {
			return err
		}
		d := c.FindDocument(documentID)
		if d == nil {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		d.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document from a customer.
func (s *Service) DeleteDocument(ctx context.Context, customerID, documentID string) error {
	_, err := s.syncer.Update(ctx, func(db *Database) error {
		c, err := findCustomer(db, customerID)
		if err != nil {
			return err
		}
		if !c.RemoveDocument(documentID) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// FileError is a file of a batch that was not uploaded.
type FileError struct {
	Name string
	Err  error
}

// UploadResult is the outcome of UploadFiles.
type UploadResult struct {
	Stored []*Attachment
	Failed []FileError
}

// UploadFiles stores files one at a time: each file is compressed, uploaded
// and its metadata saved before the next begins. A file rejected by the
// size gate or by the upload itself is recorded and the batch continues.
// A failed metadata save stops the batch; the just-uploaded blob is removed
// so that it is not orphaned.
func (s *Service) UploadFiles(ctx context.Context, customerID string, files []File) (*UploadResult, error) {
	if _, err := s.Customer(ctx, customerID); err != nil {
		return nil, err
	}

	result := &UploadResult{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		a, err := s.pipeline.Store(ctx, customerID, f)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			if errors.Is(err, ErrTooLarge) {
				s.logger.Warn("attachment skipped", "name", f.Name, "error", err)
			}
			result.Failed = append(result.Failed, FileError{Name: f.Name, Err: err})
			continue
		}

		_, err = s.syncer.Update(ctx, func(db *Database) error {
			c, err := findCustomer(db, customerID)
			if err != nil {
				return err
			}
			c.PutAttachment(a)
			return nil
		})
		if err != nil {
			if !s.referenced(customerID, a.Path) {
				if rerr := s.pipeline.Remove(ctx, a.Path); rerr != nil {
					err = multierr.Append(err, rerr)
				}
			}
			result.Failed = append(result.Failed, FileError{Name: f.Name, Err: err})
			return result, fmt.Errorf("recording attachment %s: %w", f.Name, err)
		}
		result.Stored = append(result.Stored, a)
	}
	return result, nil
}

// DownloadAttachment fetches an attachment and decrypts it. With extract
// set, archived attachments are unwrapped to the original file bytes.
// dctx is only needed for encrypted attachments.
func (s *Service) DownloadAttachment(ctx context.Context, customerID, attachmentID string, dctx DecryptionContext, extract bool) (*Attachment, []byte, error) {
	a, err := s.attachment(ctx, customerID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	payload, err := s.pipeline.Retrieve(ctx, a.Path)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.pipeline.Open(a, payload, dctx, extract)
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

// DeleteAttachment removes the metadata entry and then the blob. Both are
// attempted even if the first fails; failures are combined.
func (s *Service) DeleteAttachment(ctx context.Context, customerID, attachmentID string) error {
	a, err := s.attachment(ctx, customerID, attachmentID)
	if err != nil {
		return err
	}

	var errs error
	_, err = s.syncer.Update(ctx, func(db *Database) error {
		c, err := findCustomer(db, customerID)
		if err != nil {
			return err
		}
		if _, ok := c.RemoveAttachment(attachmentID); !ok {
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
		}
		return nil
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("removing attachment metadata: %w", err))
	}
	if err := s.pipeline.Remove(ctx, a.Path); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *Service) attachment(ctx context.Context, customerID, attachmentID string) (*Attachment, error) {
	c, err := s.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	a := c.FindAttachment(attachmentID)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
	}
	return a, nil
}

// referenced reports whether the last known database already points at key,
// in which case an overwritten blob must not be removed.
func (s *Service) referenced(customerID, key string) bool {
	db := s.syncer.Snapshot()
	if db == nil {
		return false
	}
	c := db.FindCustomer(customerID)
	if c == nil {
		return false
	}
	for _, a := range c.Files {
		if a.Path == key {
			return true
		}
	}
	return false
}

func findCustomer(db *Database, id string) (*Customer, error) {
	c := db.FindCustomer(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}
	return c, nil
}
