package store

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"

	"github.com/alimasry/go-collab-ot/config"
)

// Open builds the store selected by cfg. When cfg.FlushInterval is set the
// backend sits behind a CachedStore. Stores holding connections implement
// io.Closer.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (DocumentStore, error) {
	var (
		backend DocumentStore
		err     error
	)
	switch cfg.Backend {
	case config.BackendMemory, "":
		backend = NewMemoryStore()
	case config.BackendSQLite:
		backend, err = NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.BackendRedis:
		backend, err = NewRedisStore(ctx, cfg.RedisURL, "collab")
	case config.BackendPostgres:
		backend, err = NewPostgresStore(ctx, cfg.PostgresURL)
	case config.BackendFirestore:
		var client *firestore.Client
		client, err = firestore.NewClient(ctx, cfg.FirestoreProject)
		if err == nil {
			backend = NewFirestoreStore(client, cfg.FirestoreCollection)
		}
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Backend, err)
	}

	if cfg.FlushInterval > 0 {
		return NewCachedStore(backend, cfg.FlushInterval, logger), nil
	}
	return backend, nil
}
