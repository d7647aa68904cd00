package testutil

import (
	"custdoc/internal/compress"
	"custdoc/internal/docs"
	"custdoc/internal/store"
)

// Harness bundles a Service with the test doubles behind it.
type Harness struct {
	Service  *docs.Service
	Syncer   *docs.Syncer
	Pipeline *docs.AttachmentPipeline
	Store    *store.MemoryStore
	Clock    *StubClock
	IDs      *StubIDGenerator
	Logger   *RecordingLogger
}

// HarnessOption adjusts a Harness before it is built.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	store     *store.MemoryStore
	encryptor docs.Encryptor
	pipeline  docs.PipelineOptions
	idPrefix  string
}

// WithStore shares st between harnesses, simulating two clients of one remote.
func WithStore(st *store.MemoryStore) HarnessOption {
	return func(c *harnessConfig) { c.store = st }
}

// WithEncryptor enables attachment encryption.
func WithEncryptor(e docs.Encryptor) HarnessOption {
	return func(c *harnessConfig) { c.encryptor = e }
}

// WithPipelineOptions overrides the attachment pipeline options.
func WithPipelineOptions(opts docs.PipelineOptions) HarnessOption {
	return func(c *harnessConfig) { c.pipeline = opts }
}

// WithIDPrefix changes the prefix of generated IDs.
func WithIDPrefix(prefix string) HarnessOption {
	return func(c *harnessConfig) { c.idPrefix = prefix }
}

// NewHarness builds a Service over an in-memory store with a fixed clock,
// sequential IDs and the real compressor.
func NewHarness(opts ...HarnessOption) *Harness {
	cfg := harnessConfig{
		pipeline: docs.PipelineOptions{Overwrite: true},
		idPrefix: "id",
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.store == nil {
		cfg.store = NewTestStore()
	}

	h := &Harness{
		Store:  cfg.store,
		Clock:  FixedClock(),
		IDs:    NewPrefixedIDGenerator(cfg.idPrefix),
		Logger: NewRecordingLogger(),
	}
	h.Syncer = docs.NewSyncer(h.Store, docs.DefaultDatabasePath, docs.DefaultCommitMessage, h.Logger, h.Clock)
	h.Pipeline = docs.NewAttachmentPipeline(h.Store, compress.New(compress.Options{}), cfg.encryptor, h.Logger, h.Clock, h.IDs, cfg.pipeline)
	h.Service = docs.NewService(h.Syncer, h.Pipeline, h.Logger, h.Clock, h.IDs)
	return h
}
