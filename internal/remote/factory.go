package remote

import (
	"context"
	"fmt"

	"tripsync/internal/config"
	"tripsync/internal/tripsync"
)

// NewRemoteFromConfig creates the remote store and, where the backend can
// signal changes, its notifier. Type "none" returns nil for both, which
// leaves the account local-only. S3 has no notifier; changes arrive by
// polling.
func NewRemoteFromConfig(ctx context.Context, cfg config.RemoteConfig) (tripsync.RemoteStore, tripsync.Notifier, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil, nil
	case "memory":
		m := NewMemoryStore()
		return m, m, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, nil, fmt.Errorf("filesystem remote requires fs_root to be set")
		}
		fs, err := NewFileSystemStore(cfg.FSRoot, cfg.FSPollInterval.Duration)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
