package repository

import (
	"context"
	"fmt"

	"github.com/evicertia/pn-ec/internal/config"
)

// NewFromConfig builds the configured repository backend. The returned
// cleanup function releases any held connections.
func NewFromConfig(ctx context.Context, cfg config.RepositoryConfig) (Repository, func(), error) {
	switch cfg.Type {
	case "postgres":
		repo, err := NewPostgresRepository(ctx, cfg.DatabaseURL, cfg.PoolMin, cfg.PoolMax, cfg.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil

	case "", "http":
		repo := NewHTTPRepository(cfg.BaseURL, cfg.RequestTimeout)
		return repo, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown repository backend %q", cfg.Type)
	}
}
