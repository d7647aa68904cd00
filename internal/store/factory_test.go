package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"custdoc/internal/config"
	"custdoc/internal/docs"
	"custdoc/internal/github"
)

func TestNewContentStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RemoteConfig
		wantErr bool
		check   func(t *testing.T, s docs.ContentStore)
	}{
		{
			name: "memory store",
			cfg:  config.RemoteConfig{Type: "memory", Name: "test-memory"},
			check: func(t *testing.T, s docs.ContentStore) {
				if _, ok := s.(*MemoryStore); !ok {
					t.Errorf("got %T, want *MemoryStore", s)
				}
			},
		},
		{
			name: "github store",
			cfg:  config.RemoteConfig{Type: "github", Owner: "acme", Repo: "crm", Token: "t"},
			check: func(t *testing.T, s docs.ContentStore) {
				if _, ok := s.(*github.Client); !ok {
					t.Errorf("got %T, want *github.Client", s)
				}
			},
		},
		{
			name:    "github store without token",
			cfg:     config.RemoteConfig{Type: "github", Owner: "acme", Repo: "crm"},
			wantErr: true,
		},
		{
			name:    "filesystem store without root",
			cfg:     config.RemoteConfig{Type: "filesystem", Name: "test-fs"},
			wantErr: true,
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.RemoteConfig{Type: "s3", Name: "test-s3"},
			wantErr: true,
		},
		{
			name:    "unknown store type",
			cfg:     config.RemoteConfig{Type: "unknown", Name: "test-unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewContentStoreFromConfig(context.Background(), tt.cfg, docs.NewNopLogger())

			if (err != nil) != tt.wantErr {
				t.Fatalf("NewContentStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Errorf("NewContentStoreFromConfig() = %v, want nil", got)
				}
				return
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestNewContentStoreFromConfig_FileSystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "remote")
	got, err := NewContentStoreFromConfig(context.Background(), config.RemoteConfig{
		Type:   "filesystem",
		Name:   "local",
		FSRoot: root,
	}, docs.NewNopLogger())
	if err != nil {
		t.Fatalf("NewContentStoreFromConfig() error = %v", err)
	}
	fs, ok := got.(*FileSystemStore)
	if !ok {
		t.Fatalf("got %T, want *FileSystemStore", got)
	}
	if err := fs.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}

func TestNewContentStoreFromConfig_FileSystemRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "remote")
	if err := os.WriteFile(root, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewContentStoreFromConfig(context.Background(), config.RemoteConfig{
		Type:   "filesystem",
		FSRoot: root,
	}, docs.NewNopLogger())
	if err == nil {
		t.Fatal("NewContentStoreFromConfig() expected error for a file root")
	}
}
