package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odavl/odavl-go/internal/config"
)

// NewProvider creates a Provider from the storage configuration.
// The provider type is fixed for the lifetime of the returned value.
func NewProvider(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Type {
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage: s3 provider requires a bucket")
		}

		return newS3Provider(ctx, cfg, logger)
	case "azure":
		if cfg.Container == "" || cfg.ConnectionString == "" {
			return nil, fmt.Errorf("storage: azure provider requires a container and connection string")
		}

		return newAzureProvider(cfg, logger)
	case "local":
		if cfg.Root == "" {
			return nil, fmt.Errorf("storage: local provider requires a root directory")
		}

		return newLocalProvider(cfg.Root, logger)
	default:
		return nil, fmt.Errorf("storage: unknown provider type: %q", cfg.Type)
	}
}
