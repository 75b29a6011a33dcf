package attachment

import (
	"context"
	"fmt"

	"github.com/evicertia/pn-ec/internal/config"
)

// NewStoreFromConfig builds the configured attachment store backend.
func NewStoreFromConfig(ctx context.Context, cfg config.AttachmentConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3StoreFromConfig(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.S3Region,
		})

	case "", "safestorage":
		return NewSafeStorageStore(cfg.BaseURL, cfg.RequestTimeout), nil

	default:
		return nil, fmt.Errorf("unknown attachment store backend %q", cfg.Type)
	}
}
