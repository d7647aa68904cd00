package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
)

// Config represents the main configuration for custdoc.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Remote      RemoteConfig      `toml:"remote"`
	Attachments AttachmentsConfig `toml:"attachments"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Journal     JournalConfig     `toml:"journal"`
}

// RemoteConfig describes where the database and attachments are stored.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "github" (default), "filesystem", "s3" or "memory"
	Name string `toml:"name,omitempty"`

	// Git hosting fields (only used when Type == "github")
	APIBase string `toml:"api_base,omitempty"`
	Owner   string `toml:"owner,omitempty"`
	Repo    string `toml:"repo,omitempty"`
	Branch  string `toml:"branch,omitempty"`
	Token   string `toml:"token,omitempty"`

	DBPath            string   `toml:"db_path"`
	AttachmentsPrefix string   `toml:"attachments_prefix"`
	CommitMessage     string   `toml:"commit_message"`
	Timeout           Duration `toml:"timeout"`
	MaxRetries        int      `toml:"max_retries"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// AttachmentsConfig controls the attachment pipeline.
type AttachmentsConfig struct {
	MaxSize           int64 `toml:"max_size"`
	ImageMaxDimension int   `toml:"image_max_dimension"`
	ImageTargetSize   int64 `toml:"image_target_size"`
	Overwrite         bool  `toml:"overwrite"`
}

// EncryptionConfig holds paths to the age key pair used for attachment encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// JournalConfig represents configuration for the local operation journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Duration is a time.Duration that reads and writes as a TOML string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const (
	DefaultAPIBase       = "https://api.github.com/repos"
	DefaultBranch        = "main"
	DefaultDBPath        = "db.json"
	DefaultPrefix        = "attachments"
	DefaultCommitMessage = "Update data via custdoc"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultMaxSize       = 100 << 20
	DefaultMaxDimension  = 1920
	DefaultTargetSize    = 1 << 20
)

// NewConfig creates a new Config with default values rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Remote: RemoteConfig{
			Type:              "github",
			Name:              "origin",
			APIBase:           DefaultAPIBase,
			Branch:            DefaultBranch,
			DBPath:            DefaultDBPath,
			AttachmentsPrefix: DefaultPrefix,
			CommitMessage:     DefaultCommitMessage,
			Timeout:           Duration{DefaultTimeout},
			MaxRetries:        DefaultMaxRetries,
		},
		Attachments: AttachmentsConfig{
			MaxSize:           DefaultMaxSize,
			ImageMaxDimension: DefaultMaxDimension,
			ImageTargetSize:   DefaultTargetSize,
			Overwrite:         true,
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "custdoc.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "custdoc.key"),
		},
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "journal"),
		},
	}
}

// ApplyDefaults fills zero values left by a partial config file.
func (c *Config) ApplyDefaults() {
	r := &c.Remote
	if r.Type == "" {
		r.Type = "github"
	}
	if r.APIBase == "" {
		r.APIBase = DefaultAPIBase
	}
	if r.Branch == "" {
		r.Branch = DefaultBranch
	}
	if r.DBPath == "" {
		r.DBPath = DefaultDBPath
	}
	if r.AttachmentsPrefix == "" {
		r.AttachmentsPrefix = DefaultPrefix
	}
	if r.CommitMessage == "" {
		r.CommitMessage = DefaultCommitMessage
	}
	if r.Timeout.Duration <= 0 {
		r.Timeout = Duration{DefaultTimeout}
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	a := &c.Attachments
	if a.MaxSize <= 0 {
		a.MaxSize = DefaultMaxSize
	}
	if a.ImageMaxDimension <= 0 {
		a.ImageMaxDimension = DefaultMaxDimension
	}
	if a.ImageTargetSize <= 0 {
		a.ImageTargetSize = DefaultTargetSize
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
	if c.Journal.Type == "" {
		c.Journal.Type = "sqlite"
	}
}

// EnvOverrides are remote settings that may be supplied through the
// environment instead of the config file.
type EnvOverrides struct {
	Token   string `env:"CUSTDOC_TOKEN"`
	Owner   string `env:"CUSTDOC_OWNER"`
	Repo    string `env:"CUSTDOC_REPO"`
	Branch  string `env:"CUSTDOC_BRANCH"`
	APIBase string `env:"CUSTDOC_API_BASE"`
}

// ApplyEnv overrides remote settings with any CUSTDOC_* variables that are set.
func (c *Config) ApplyEnv() error {
	var o EnvOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}
	if o.Token != "" {
		c.Remote.Token = o.Token
	}
	if o.Owner != "" {
		c.Remote.Owner = o.Owner
	}
	if o.Repo != "" {
		c.Remote.Repo = o.Repo
	}
	if o.Branch != "" {
		c.Remote.Branch = o.Branch
	}
	if o.APIBase != "" {
		c.Remote.APIBase = o.APIBase
	}
	return nil
}

// Validate checks that the selected remote has everything it needs.
func (c *Config) Validate() error {
	r := c.Remote
	switch r.Type {
	case "github":
		if r.Token == "" || r.Owner == "" || r.Repo == "" {
			return fmt.Errorf("github remote requires token, owner and repo to be set")
		}
	case "filesystem":
		if r.FSRoot == "" {
			return fmt.Errorf("filesystem remote requires fs_root to be set")
		}
	case "s3":
		if r.S3Bucket == "" {
			return fmt.Errorf("s3 remote requires s3_bucket to be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown remote type: %s", r.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and fills defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Load reads the config file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// The file may hold a token, so it is only readable by the owner.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
