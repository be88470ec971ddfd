package rulestore

import (
	"context"
	"time"

	"kpipolicy/internal/domain"
	"kpipolicy/internal/metrics"
)

// InstrumentedStore records latency and failures of every repository call.
type InstrumentedStore struct {
	next    Repository
	metrics *metrics.Metrics
	backend string
}

// Instrumented wraps repository with Prometheus timings.
// Params: wrapped repository, metrics (nil disables), backend label.
// Returns: decorating repository.
func Instrumented(next Repository, m *metrics.Metrics, backend string) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: m, backend: backend}
}

func (s *InstrumentedStore) observe(op string, started time.Time, err error) {
	s.metrics.ObserveStoreOp(s.backend, op, time.Since(started), err)
}

func (s *InstrumentedStore) List(ctx context.Context) ([]domain.Rule, error) {
	started := time.Now()
	rules, err := s.next.List(ctx)
	s.observe("list", started, err)
	return rules, err
}

func (s *InstrumentedStore) Get(ctx context.Context, id string) (domain.Rule, bool, error) {
	started := time.Now()
	rule, found, err := s.next.Get(ctx, id)
	s.observe("get", started, err)
	return rule, found, err
}

func (s *InstrumentedStore) Upsert(ctx context.Context, rule domain.Rule) error {
	started := time.Now()
	err := s.next.Upsert(ctx, rule)
	s.observe("upsert", started, err)
	return err
}

func (s *InstrumentedStore) BulkUpsert(ctx context.Context, rules []domain.Rule) error {
	started := time.Now()
	err := s.next.BulkUpsert(ctx, rules)
	s.observe("bulk_upsert", started, err)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	started := time.Now()
	err := s.next.Delete(ctx, id)
	s.observe("delete", started, err)
	return err
}

func (s *InstrumentedStore) Export(ctx context.Context) (Snapshot, error) {
	started := time.Now()
	snapshot, err := s.next.Export(ctx)
	s.observe("export", started, err)
	return snapshot, err
}

func (s *InstrumentedStore) Restore(ctx context.Context, snapshot Snapshot) error {
	started := time.Now()
	err := s.next.Restore(ctx, snapshot)
	s.observe("restore", started, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
