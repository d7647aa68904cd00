package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"custdoc/internal/compress"
	"custdoc/internal/config"
	"custdoc/internal/docs"
	"custdoc/internal/encryption"
	"custdoc/internal/journal"
	"custdoc/internal/store"
)

// PassphraseFunc asks the user for a passphrase when one is needed.
type PassphraseFunc func() (string, error)

// App is the application layer between the CLI and docs.Service.
// It constructs all dependencies from config, records mutating commands in
// the journal, and releases the journal and log file on Close.
type App struct {
	cfg       *config.Config
	encryptor docs.Encryptor
	journal   docs.Journal
	syncer    *docs.Syncer
	service   *docs.Service
	clock     docs.Clock
	logger    docs.Logger
	op        *Operation
	logCloser io.Closer
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "AddCustomer").
// With verbose set, log lines are mirrored to stderr.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string, verbose bool) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	sl, logCloser, err := newLogger(cfg.LogDir, opID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	remote, err := store.NewContentStoreFromConfig(ctx, cfg.Remote, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating content store: %w", err)
	}
	st := newRetryingStore(remote, cfg.Remote.MaxRetries, logger)

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	j, err := journal.NewJournalFromConfig(cfg.Journal)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	clock := docs.RealClock{}
	ids := docs.UUIDGenerator{}
	compressor := compress.New(compress.Options{
		MaxDimension: cfg.Attachments.ImageMaxDimension,
		TargetSize:   cfg.Attachments.ImageTargetSize,
	})
	syncer := docs.NewSyncer(st, cfg.Remote.DBPath, cfg.Remote.CommitMessage, logger, clock)
	pipeline := docs.NewAttachmentPipeline(st, compressor, enc, logger, clock, ids, docs.PipelineOptions{
		Prefix:    cfg.Remote.AttachmentsPrefix,
		MaxSize:   cfg.Attachments.MaxSize,
		Overwrite: cfg.Attachments.Overwrite,
	})
	svc := docs.NewService(syncer, pipeline, logger, clock, ids)

	return &App{
		cfg:       cfg,
		encryptor: enc,
		journal:   j,
		syncer:    syncer,
		service:   svc,
		clock:     clock,
		logger:    logger,
		op:        NewOperation(operation, ""),
		logCloser: logCloser,
	}, nil
}

// persistOperation saves the operation to the journal, giving it an ID.
// This should only be called for mutating commands.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	op, err := a.journal.CreateOperation(a.op.Operation, a.op.Parameters, a.syncer.Version(), a.clock.Now())
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}
	a.op.ID = op.ID
	return nil
}

// track loads the database if needed, journals the operation with the
// version it starts from, and runs fn.
func (a *App) track(ctx context.Context, parameters string, fn func() error) error {
	a.op.Parameters = parameters

	var err error
	if a.syncer.State() == docs.StateUnloaded {
		_, err = a.service.Load(ctx)
	}
	if perr := a.persistOperation(); perr != nil {
		return multierr.Append(err, perr)
	}
	if err == nil {
		err = fn()
	}
	a.op.Fail(err)
	return err
}

// Init creates the remote database file if it does not exist yet.
func (a *App) Init(ctx context.Context) (bool, error) {
	var created bool
	err := a.track(ctx, "", func() error {
		var err error
		created, err = a.service.Init(ctx)
		return err
	})
	return created, err
}

// EncryptionEnabled reports whether attachments are encrypted.
func (a *App) EncryptionEnabled() bool {
	return a.encryptor != nil
}

// EncryptionConfigured reports whether the key pair exists.
func (a *App) EncryptionConfigured() bool {
	return a.encryptor != nil && a.encryptor.IsConfigured()
}

// SetupEncryption generates the key pair protected by passphrase.
func (a *App) SetupEncryption(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled in the configuration")
	}
	return a.encryptor.Setup(passphrase)
}

// EncryptionRecipient returns the public key attachments are encrypted to.
func (a *App) EncryptionRecipient() (string, error) {
	r, ok := a.encryptor.(interface{ Recipient() (string, error) })
	if !ok {
		return "", fmt.Errorf("encryptor has no public recipient")
	}
	return r.Recipient()
}

// Customers returns customers matching query.
func (a *App) Customers(ctx context.Context, query string) ([]*docs.Customer, error) {
	return a.service.Customers(ctx, query)
}

// Customer returns one customer.
func (a *App) Customer(ctx context.Context, id string) (*docs.Customer, error) {
	return a.service.Customer(ctx, id)
}

// AddCustomer creates a customer.
func (a *App) AddCustomer(ctx context.Context, name, contact string) (*docs.Customer, error) {
	var c *docs.Customer
	err := a.track(ctx, "name="+name, func() error {
		var err error
		c, err = a.service.AddCustomer(ctx, name, contact)
		return err
	})
	return c, err
}

// UpdateContact replaces a customer's contact details.
func (a *App) UpdateContact(ctx context.Context, customerID, contact string) error {
	return a.track(ctx, "customer="+customerID, func() error {
		return a.service.UpdateContact(ctx, customerID, contact)
	})
}

// DeleteCustomer removes a customer with its documents and attachments.
func (a *App) DeleteCustomer(ctx context.Context, customerID string) error {
	return a.track(ctx, "customer="+customerID, func() error {
		return a.service.DeleteCustomer(ctx, customerID)
	})
}

// AddDocument adds a document to a customer.
func (a *App) AddDocument(ctx context.Context, customerID, title string, status docs.DocumentStatus) (*docs.Document, error) {
	var d *docs.Document
	err := a.track(ctx, fmt.Sprintf("customer=%s title=%s", customerID, title), func() error {
		var err error
		d, err = a.service.AddDocument(ctx, customerID, title, status)
		return err
	})
	return d, err
}

// SetDocumentStatus changes a document's status.
func (a *App) SetDocumentStatus(ctx context.Context, customerID, documentID string, status docs.DocumentStatus) error {
	return a.track(ctx, fmt.Sprintf("customer=%s document=%s status=%s", customerID, documentID, status), func() error {
		return a.service.SetDocumentStatus(ctx, customerID, documentID, status)
	})
}

// DeleteDocument removes a document.
func (a *App) DeleteDocument(ctx context.Context, customerID, documentID string) error {
	return a.track(ctx, fmt.Sprintf("customer=%s document=%s", customerID, documentID), func() error {
		return a.service.DeleteDocument(ctx, customerID, documentID)
	})
}

// UploadFiles reads the files at paths and uploads them to a customer.
func (a *App) UploadFiles(ctx context.Context, customerID string, paths []string) (*docs.UploadResult, error) {
	files, err := readFiles(paths)
	if err != nil {
		return nil, err
	}

	var result *docs.UploadResult
	err = a.track(ctx, fmt.Sprintf("customer=%s files=%d", customerID, len(files)), func() error {
		var err error
		result, err = a.service.UploadFiles(ctx, customerID, files)
		if err == nil && result != nil && len(result.Failed) > 0 {
			a.op.Message = fmt.Sprintf("%d of %d files not uploaded", len(result.Failed), len(files))
		}
		return err
	})
	return result, err
}

// DownloadAttachment fetches an attachment. passphrase is only called when
// the attachment is encrypted.
func (a *App) DownloadAttachment(ctx context.Context, customerID, attachmentID string, passphrase PassphraseFunc, extract bool) (*docs.Attachment, []byte, error) {
	c, err := a.service.Customer(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	att := c.FindAttachment(attachmentID)
	if att == nil {
		return nil, nil, fmt.Errorf("%w: %s", docs.ErrAttachmentNotFound, attachmentID)
	}

	var dctx docs.DecryptionContext
	if att.Encrypted {
		if a.encryptor == nil {
			return nil, nil, fmt.Errorf("attachment %s is encrypted but encryption is not configured", att.Name)
		}
		pass, err := passphrase()
		if err != nil {
			return nil, nil, fmt.Errorf("reading passphrase: %w", err)
		}
		dctx, err = a.encryptor.Unlock(pass)
		if err != nil {
			return nil, nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return a.service.DownloadAttachment(ctx, customerID, attachmentID, dctx, extract)
}

// DeleteAttachment removes an attachment's metadata and blob.
func (a *App) DeleteAttachment(ctx context.Context, customerID, attachmentID string) error {
	return a.track(ctx, fmt.Sprintf("customer=%s attachment=%s", customerID, attachmentID), func() error {
		return a.service.DeleteAttachment(ctx, customerID, attachmentID)
	})
}

// History returns the most recent journaled operations.
func (a *App) History(limit int) ([]*docs.Operation, error) {
	return a.journal.RecentOperations(limit)
}

// Export returns the current database as "json" or "yaml".
func (a *App) Export(ctx context.Context, format string) ([]byte, error) {
	db, err := a.service.Load(ctx)
	if err != nil {
		return nil, err
	}

	switch format {
	case "json", "":
		return docs.Encode(db)
	case "yaml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(db); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown export format: %q", format)
	}
}

// Close finalizes the operation and releases the journal and log file.
func (a *App) Close() error {
	var errs error

	if a.op.Persisted() {
		if err := a.journal.FinishOperation(a.op.ID, a.op.Status, a.syncer.Version(), a.op.Message, a.clock.Now()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if err := a.journal.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing journal: %w", err))
	}
	if err := a.logCloser.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing log file: %w", err))
	}
	return errs
}
