package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/custdoc")
	original.Remote.Owner = "acme"
	original.Remote.Repo = "customers"
	original.Remote.Token = "ghp_secret"
	original.Remote.Timeout = Duration{45 * time.Second}
	original.Attachments.Overwrite = false
	original.Journal = JournalConfig{Type: "memory"}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `timeout = "45s"`) {
		t.Errorf("encoded config missing timeout string:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Remote.Owner != "acme" || got.Remote.Repo != "customers" {
		t.Errorf("Remote = %s/%s, want acme/customers", got.Remote.Owner, got.Remote.Repo)
	}
	if got.Remote.Timeout.Duration != 45*time.Second {
		t.Errorf("Remote.Timeout = %v, want 45s", got.Remote.Timeout)
	}
	if got.Remote.DBPath != DefaultDBPath {
		t.Errorf("Remote.DBPath = %q, want %q", got.Remote.DBPath, DefaultDBPath)
	}
	if got.Attachments.Overwrite {
		t.Error("Attachments.Overwrite = true, want false")
	}
	if got.Attachments.MaxSize != DefaultMaxSize {
		t.Errorf("Attachments.MaxSize = %d, want %d", got.Attachments.MaxSize, DefaultMaxSize)
	}
	if got.Journal.Type != "memory" {
		t.Errorf("Journal.Type = %q, want %q", got.Journal.Type, "memory")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/custdoc")

	if cfg.BaseDir != "/data/custdoc" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/custdoc")
	}
	if cfg.LogDir != "/data/custdoc/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/custdoc/log")
	}
	if cfg.Remote.Type != "github" {
		t.Errorf("Remote.Type = %q, want github", cfg.Remote.Type)
	}
	if cfg.Remote.Branch != "main" {
		t.Errorf("Remote.Branch = %q, want main", cfg.Remote.Branch)
	}
	if cfg.Remote.Timeout.Duration != 30*time.Second {
		t.Errorf("Remote.Timeout = %v, want 30s", cfg.Remote.Timeout)
	}
	if cfg.Encryption.PrivateKeyPath != "/data/custdoc/keys/custdoc.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q", cfg.Encryption.PrivateKeyPath)
	}
	if cfg.Journal.DataDir != "/data/custdoc/journal" {
		t.Errorf("Journal.DataDir = %q", cfg.Journal.DataDir)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Remote.Type != "github" {
		t.Errorf("Remote.Type = %q, want github", cfg.Remote.Type)
	}
	if cfg.Remote.APIBase != DefaultAPIBase {
		t.Errorf("Remote.APIBase = %q, want %q", cfg.Remote.APIBase, DefaultAPIBase)
	}
	if cfg.Remote.Timeout.Duration != DefaultTimeout {
		t.Errorf("Remote.Timeout = %v, want %v", cfg.Remote.Timeout, DefaultTimeout)
	}
	if cfg.Attachments.MaxSize != DefaultMaxSize {
		t.Errorf("Attachments.MaxSize = %d, want %d", cfg.Attachments.MaxSize, DefaultMaxSize)
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want none", cfg.Encryption.Type)
	}
	if cfg.Journal.Type != "sqlite" {
		t.Errorf("Journal.Type = %q, want sqlite", cfg.Journal.Type)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CUSTDOC_TOKEN", "env-token")
	t.Setenv("CUSTDOC_OWNER", "env-owner")
	t.Setenv("CUSTDOC_REPO", "")
	t.Setenv("CUSTDOC_BRANCH", "")
	t.Setenv("CUSTDOC_API_BASE", "")

	cfg := NewConfig(t.TempDir())
	cfg.Remote.Owner = "file-owner"
	cfg.Remote.Repo = "file-repo"

	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Remote.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.Remote.Token)
	}
	if cfg.Remote.Owner != "env-owner" {
		t.Errorf("Owner = %q, want env-owner", cfg.Remote.Owner)
	}
	if cfg.Remote.Repo != "file-repo" {
		t.Errorf("Repo = %q, want file-repo", cfg.Remote.Repo)
	}
	if cfg.Remote.Branch != DefaultBranch {
		t.Errorf("Branch = %q, want %q", cfg.Remote.Branch, DefaultBranch)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		remote  RemoteConfig
		wantErr bool
	}{
		{"github complete", RemoteConfig{Type: "github", Token: "t", Owner: "o", Repo: "r"}, false},
		{"github missing token", RemoteConfig{Type: "github", Owner: "o", Repo: "r"}, true},
		{"github missing repo", RemoteConfig{Type: "github", Token: "t", Owner: "o"}, true},
		{"filesystem with root", RemoteConfig{Type: "filesystem", FSRoot: "/tmp/x"}, false},
		{"filesystem without root", RemoteConfig{Type: "filesystem"}, true},
		{"s3 without bucket", RemoteConfig{Type: "s3"}, true},
		{"s3 with bucket", RemoteConfig{Type: "s3", S3Bucket: "b"}, false},
		{"memory", RemoteConfig{Type: "memory"}, false},
		{"unknown", RemoteConfig{Type: "ftp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Remote: tt.remote}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custdoc.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custdoc.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custdoc.toml")
		cfg := NewConfig(dir)
		cfg.Remote.Owner = "read-test"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Remote.Owner != "read-test" {
			t.Errorf("Remote.Owner = %q, want %q", got.Remote.Owner, "read-test")
		}
	})

	t.Run("fills defaults for partial file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custdoc.toml")
		content := "[remote]\ntype = \"filesystem\"\nfs_root = \"/srv/custdoc\"\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Remote.FSRoot != "/srv/custdoc" {
			t.Errorf("Remote.FSRoot = %q", got.Remote.FSRoot)
		}
		if got.Remote.DBPath != DefaultDBPath {
			t.Errorf("Remote.DBPath = %q, want %q", got.Remote.DBPath, DefaultDBPath)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/custdoc.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("returns error for bad duration", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custdoc.toml")
		if err := os.WriteFile(path, []byte("[remote]\ntimeout = \"soon\"\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected error for bad duration")
		}
	})
}
