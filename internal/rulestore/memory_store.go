package rulestore

import (
	"context"
	"sync"

	"kpipolicy/internal/domain"
)

// MemoryStore keeps rules in process memory for tests and single-instance runs.
// Params: rules map guarded by one RWMutex.
// Returns: repository implementation without external dependencies.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]domain.Rule
}

// NewMemoryStore creates empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]domain.Rule)}
}

// List returns clones of all rules ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out, nil
}

// Get returns one rule clone.
// Params: rule id.
// Returns: rule and true, or zero rule and false when absent.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Rule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return domain.Rule{}, false, nil
	}
	return rule.Clone(), true, nil
}

// Upsert replaces rule by id.
func (s *MemoryStore) Upsert(_ context.Context, rule domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// BulkUpsert replaces every listed rule under one lock.
func (s *MemoryStore) BulkUpsert(_ context.Context, rules []domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range rules {
		s.rules[rule.ID] = rule.Clone()
	}
	return nil
}

// Delete removes rule by id; absent id is a no-op.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

// Export returns a versioned snapshot of all rules.
func (s *MemoryStore) Export(ctx context.Context) (Snapshot, error) {
	rules, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: SnapshotVersion, Rules: rules}, nil
}

// Restore replaces the whole rule set.
// Params: snapshot with non-nil rules.
// Returns: ErrInvalidSnapshot before any change when rules are missing.
func (s *MemoryStore) Restore(_ context.Context, snapshot Snapshot) error {
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}
	next := make(map[string]domain.Rule, len(snapshot.Rules))
	for _, rule := range snapshot.Rules {
		next[rule.ID] = rule.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = next
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
