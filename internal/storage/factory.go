package storage

import (
	"context"
	"fmt"

	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// Disk names referenced by rachma_files.disk
const (
	DiskPublic  = "public"
	DiskPrivate = "private"
)

// NewFromConfig builds the public and private disks for the configured driver
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (*Disks, error) {
	switch cfg.Driver {
	case "s3":
		client, err := NewS3Client(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}

		log.Info("Using S3 storage", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
		return NewDisks(map[string]Backend{
			DiskPublic:  NewS3Disk(client, cfg.Bucket, WithPrefix(DiskPublic), WithLogger(log)),
			DiskPrivate: NewS3Disk(client, cfg.Bucket, WithPrefix(DiskPrivate), WithLogger(log)),
		}), nil

	case "local", "":
		public, err := NewLocalDisk(cfg.PublicRoot)
		if err != nil {
			return nil, err
		}
		private, err := NewLocalDisk(cfg.PrivateRoot)
		if err != nil {
			return nil, err
		}

		log.Info("Using local storage", "public", public.Root(), "private", private.Root())
		return NewDisks(map[string]Backend{
			DiskPublic:  public,
			DiskPrivate: private,
		}), nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
