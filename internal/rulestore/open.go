package rulestore

import (
	"context"
	"fmt"

	"kpipolicy/internal/config"
	"kpipolicy/internal/metrics"
)

// Open builds the configured repository backend wrapped with metrics.
// Params: context for network backends, store settings, and metrics (nil allowed).
// Returns: repository ready for use or backend setup error.
func Open(ctx context.Context, settings config.StoreConfig, m *metrics.Metrics) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch settings.Backend {
	case config.StoreBackendBolt:
		repo, err = NewBoltStore(settings.Bolt)
	case config.StoreBackendPostgres:
		repo, err = NewPostgresStore(ctx, settings.Postgres)
	case config.StoreBackendNATS:
		repo, err = NewNATSStore(settings.NATS)
	case config.StoreBackendMemory:
		repo = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store backend %q", settings.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", settings.Backend, err)
	}
	return Instrumented(repo, m, settings.Backend), nil
}
