package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// MaxAttachmentSize is the ceiling on an attachment payload after compression.
const MaxAttachmentSize int64 = 100 << 20

// DefaultAttachmentPrefix is the root of the per-customer blob namespace.
const DefaultAttachmentPrefix = "attachments"

// Strategy is the compression decision for one file.
type Strategy int

const (
	StrategySkip Strategy = iota
	StrategyImageRecompress
	StrategyGenericArchive
)

func (s Strategy) String() string {
	switch s {
	case StrategySkip:
		return "skip"
	case StrategyImageRecompress:
		return "image"
	case StrategyGenericArchive:
		return "archive"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// skipExtensions are formats that are already compressed.
var skipExtensions = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".tgz": true,
	".bz2": true, ".xz": true, ".zst": true,
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true,
	".mp3": true, ".aac": true, ".ogg": true, ".flac": true, ".m4a": true,
}

// File is an attachment as handed to the pipeline.
type File struct {
	Name string
	Type string // MIME type
	Data []byte
}

// Compressed is the output of Compress.
type Compressed struct {
	Payload        []byte
	OriginalSize   int64
	CompressedSize int64
	Compression    Compression
}

// DecideStrategy picks a strategy from the file name and MIME type.
func DecideStrategy(name, mimeType string) Strategy {
	if skipExtensions[strings.ToLower(filepath.Ext(name))] {
		return StrategySkip
	}
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return StrategyImageRecompress
	}
	return StrategyGenericArchive
}

// AttachmentPath is the store key for a file of a customer.
// Archived payloads carry an extra ".zip" suffix.
func AttachmentPath(prefix, customerID, name string, c Compression) string {
	if prefix == "" {
		prefix = DefaultAttachmentPrefix
	}
	base := path.Base(filepath.ToSlash(name))
	if c == CompressionZip {
		base += ".zip"
	}
	return path.Join(prefix, customerID, base)
}

// CheckSize applies the size gate.
func CheckSize(name string, size, limit int64) error {
	if limit <= 0 {
		limit = MaxAttachmentSize
	}
	if size > limit {
		return &TooLargeError{Name: name, Size: size, Limit: limit}
	}
	return nil
}

// PipelineOptions configures an AttachmentPipeline.
type PipelineOptions struct {
	Prefix    string
	MaxSize   int64
	Message   string
	Overwrite bool // replace an existing blob with the same path
}

// AttachmentPipeline compresses, optionally encrypts, and stores attachment
// payloads under a per-customer namespace. It never touches the Database;
// callers append the returned metadata and save through the Syncer.
type AttachmentPipeline struct {
	store      ContentStore
	compressor Compressor
	encryptor  Encryptor // nil disables encryption
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	opts       PipelineOptions
}

// NewAttachmentPipeline creates a pipeline. encryptor may be nil.
func NewAttachmentPipeline(store ContentStore, compressor Compressor, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, opts PipelineOptions) *AttachmentPipeline {
	if opts.Prefix == "" {
		opts.Prefix = DefaultAttachmentPrefix
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = MaxAttachmentSize
	}
	if opts.Message == "" {
		opts.Message = "Upload attachment via custdoc"
	}
	return &AttachmentPipeline{
		store:      store,
		compressor: compressor,
		encryptor:  encryptor,
		logger:     logger.With("component", "attachments"),
		clock:      clock,
		idgen:      idgen,
		opts:       opts,
	}
}

// Compress applies strategy to f. Compression failures are logged and
// degrade to the original bytes; only ctx cancellation is returned.
func (p *AttachmentPipeline) Compress(ctx context.Context, f File, strategy Strategy) (*Compressed, error) {
	original := int64(len(f.Data))
	keep := &Compressed{
		Payload:        f.Data,
		OriginalSize:   original,
		CompressedSize: original,
		Compression:    CompressionNone,
	}

	var (
		out []byte
		err error
		c   Compression
	)
	switch strategy {
	case StrategySkip:
		return keep, nil
	case StrategyImageRecompress:
		out, err = p.compressor.RecompressImage(ctx, f)
		c = CompressionImage
	case StrategyGenericArchive:
		out, err = p.compressor.Archive(ctx, f)
		c = CompressionZip
	default:
		return nil, fmt.Errorf("unknown strategy: %v", strategy)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		p.logger.Warn("compression failed, keeping original", "name", f.Name, "strategy", strategy.String(), "error", err)
		return keep, nil
	}
	if int64(len(out)) >= original {
		p.logger.Debug("compression not smaller, keeping original", "name", f.Name, "strategy", strategy.String())
		return keep, nil
	}

	return &Compressed{
		Payload:        out,
		OriginalSize:   original,
		CompressedSize: int64(len(out)),
		Compression:    c,
	}, nil
}

// Store compresses f, applies the size gate, and writes it under the
// customer's namespace with create semantics. With Overwrite set, an
// existing blob at the same path is replaced at its current version.
func (p *AttachmentPipeline) Store(ctx context.Context, customerID string, f File) (*Attachment, error) {
	strategy := DecideStrategy(f.Name, f.Type)
	c, err := p.Compress(ctx, f, strategy)
	if err != nil {
		return nil, err
	}

	if err := CheckSize(f.Name, c.CompressedSize, p.opts.MaxSize); err != nil {
		return nil, err
	}

	payload := c.Payload
	encrypted := false
	if p.encryptor != nil {
		var buf bytes.Buffer
		if err := p.encryptor.Encrypt(bytes.NewReader(payload), &buf); err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", f.Name, err)
		}
		payload = buf.Bytes()
		encrypted = true
	}

	key := AttachmentPath(p.opts.Prefix, customerID, f.Name, c.Compression)
	if err := p.write(ctx, key, payload); err != nil {
		return nil, err
	}

	p.logger.Info("attachment stored", "path", key, "original", c.OriginalSize, "compressed", c.CompressedSize, "strategy", strategy.String())
	return &Attachment{
		ID:             p.idgen.New(),
		Name:           filepath.Base(f.Name),
		OriginalSize:   c.OriginalSize,
		CompressedSize: c.CompressedSize,
		Path:           key,
		UploadDate:     p.clock.Now(),
		Type:           f.Type,
		Compression:    c.Compression,
		Encrypted:      encrypted,
	}, nil
}

func (p *AttachmentPipeline) write(ctx context.Context, key string, payload []byte) error {
	_, err := p.store.WriteFile(ctx, key, payload, "", p.opts.Message)
	if err == nil {
		return nil
	}
	if !p.opts.Overwrite || !errors.Is(err, ErrConflict) {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	_, version, rerr := p.store.ReadFile(ctx, key)
	if rerr != nil {
		return fmt.Errorf("resolving existing %s: %w", key, rerr)
	}
	p.logger.Info("overwriting existing attachment", "path", key, "version", version)
	if _, err := p.store.WriteFile(ctx, key, payload, version, p.opts.Message); err != nil {
		return fmt.Errorf("overwriting %s: %w", key, err)
	}
	return nil
}

// Retrieve returns the stored payload at key.
func (p *AttachmentPipeline) Retrieve(ctx context.Context, key string) ([]byte, error) {
	content, _, err := p.store.ReadFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	return content, nil
}

// Open turns a stored payload back into file bytes: decrypt when the
// attachment is encrypted, then, with extract set, unwrap archives.
// Recompressed images are returned as stored.
func (p *AttachmentPipeline) Open(a *Attachment, payload []byte, dctx DecryptionContext, extract bool) ([]byte, error) {
	if a.Encrypted {
		if dctx == nil {
			return nil, fmt.Errorf("attachment %s is encrypted: passphrase required", a.Name)
		}
		var buf bytes.Buffer
		if err := dctx.Decrypt(bytes.NewReader(payload), &buf); err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", a.Name, err)
		}
		payload = buf.Bytes()
	}
	if extract && a.Compression == CompressionZip {
		data, err := p.compressor.Extract(payload)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", a.Name, err)
		}
		return data, nil
	}
	return payload, nil
}

// Remove deletes the blob at key.
func (p *AttachmentPipeline) Remove(ctx context.Context, key string) error {
	if err := p.store.DeleteFile(ctx, key, "Delete attachment via custdoc"); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	p.logger.Info("attachment removed", "path", key)
	return nil
}
