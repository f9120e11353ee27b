package store

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/shared"
)

// Open builds the backend selected by config.Store.Backend.
func Open(ctx context.Context, config *shared.Config) (TokenStore, error) {
	switch config.Store.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "", "file":
		path, err := shared.ExpandHome(config.Store.Path)
		if err != nil {
			return nil, err
		}
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(config.Database.Path, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	case "redis":
		r := config.Store.Redis
		s, err := NewRedisStore(ctx, r.Addr, r.Password, r.DB, r.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownBackend, config.Store.Backend)
	}
}
