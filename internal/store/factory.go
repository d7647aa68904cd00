package store

import (
	"context"
	"fmt"

	"custdoc/internal/config"
	"custdoc/internal/docs"
	"custdoc/internal/github"
)

// NewContentStoreFromConfig creates a ContentStore based on the remote config type.
func NewContentStoreFromConfig(ctx context.Context, cfg config.RemoteConfig, logger docs.Logger) (docs.ContentStore, error) {
	switch cfg.Type {
	case "github", "":
		if cfg.Token == "" || cfg.Owner == "" || cfg.Repo == "" {
			return nil, fmt.Errorf("github remote requires token, owner and repo to be set")
		}
		return github.NewClient(github.Options{
			APIBase: cfg.APIBase,
			Owner:   cfg.Owner,
			Repo:    cfg.Repo,
			Branch:  cfg.Branch,
			Token:   cfg.Token,
			Timeout: cfg.Timeout.Duration,
			Logger:  logger,
		}), nil
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem remote requires fs_root to be set")
		}
		fs, err := NewFileSystemStore(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		if err := fs.ValidateSetup(); err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 remote requires s3_bucket to be set")
		}
		client, err := NewS3Client(ctx, S3Options{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(cfg.Name, client, cfg.S3Bucket, cfg.S3Prefix, cfg.Timeout.Duration), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
