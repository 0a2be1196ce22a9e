package storage

import (
	"context"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/domain"
)

// New builds the ObjectStorage selected by cfg.Provider.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	var (
		store ObjectStorage
		err   error
	)

	switch cfg.Provider {
	case config.ProviderGCS, "":
		var c *GCSClient
		c, err = NewGCSClient(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsPath: cfg.GCS.CredentialsPath,
			Endpoint:        cfg.GCS.Endpoint,
		})
		store = c
	case config.ProviderS3:
		var c *S3Client
		c, err = NewS3Client(S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		store = c
	case config.ProviderLocal:
		var c *LocalClient
		c, err = NewLocalClient(LocalConfig{
			Dir:    cfg.Local.Dir,
			Bucket: cfg.Bucket,
		})
		store = c
	default:
		return nil, domain.Errorf(domain.KindConfig, "storage", "unsupported storage provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, err
	}
	return store, nil
}
