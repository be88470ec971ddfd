package rulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists the whole rule set as one JetStream KV value.
// Params: NATS connection, KV bucket handle, key name, and CAS retry bound.
// Returns: repository whose mutations are compare-and-swap on one key.
type NATSStore struct {
	nc         *nats.Conn
	kv         nats.KeyValue
	key        string
	maxRetries int
}

// NewNATSStore opens (or creates) the KV bucket holding the rule set.
// Params: NATS URLs and bucket settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, storageError("connect nats", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, storageError("jetstream init", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBucket {
			nc.Close()
			return nil, storageError(fmt.Sprintf("open bucket %q", settings.Bucket), err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      settings.Bucket,
			Description: "kpipolicy rule set",
			History:     5,
		})
		if err != nil {
			nc.Close()
			return nil, storageError(fmt.Sprintf("create bucket %q", settings.Bucket), err)
		}
	}

	maxRetries := settings.MaxUpdateRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &NATSStore{nc: nc, kv: kv, key: settings.Key, maxRetries: maxRetries}, nil
}

// load reads current rule set and its KV revision.
// Returns: rules keyed by id, revision (0 when key is absent), or read error.
func (s *NATSStore) load() (map[string]domain.Rule, uint64, error) {
	entry, err := s.kv.Get(s.key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return map[string]domain.Rule{}, 0, nil
		}
		return nil, 0, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(entry.Value(), &snapshot); err != nil {
		return nil, 0, fmt.Errorf("decode rule set: %w", err)
	}
	rules := make(map[string]domain.Rule, len(snapshot.Rules))
	for _, rule := range snapshot.Rules {
		rules[rule.ID] = rule
	}
	return rules, entry.Revision(), nil
}

// mutate applies change to the latest rule set and writes it back with CAS.
// Params: context checked between attempts and in-place change function.
// Returns: nil on success, ErrConflict after retries, or ErrStorage-wrapped error.
func (s *NATSStore) mutate(ctx context.Context, op string, change func(map[string]domain.Rule)) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return storageError(op, err)
		}
		rules, revision, err := s.load()
		if err != nil {
			return storageError(op, err)
		}
		change(rules)

		flat := make([]domain.Rule, 0, len(rules))
		for _, rule := range rules {
			flat = append(flat, rule)
		}
		body, err := json.Marshal(NewSnapshot(flat))
		if err != nil {
			return storageError(op, err)
		}

		if revision == 0 {
			_, err = s.kv.Create(s.key, body)
		} else {
			_, err = s.kv.Update(s.key, body, revision)
		}
		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return storageError(op, err)
		}
	}
	return fmt.Errorf("%w: %s: gave up after %d attempts", ErrConflict, op, s.maxRetries)
}

// isRevisionConflict detects CAS failures reported by JetStream.
func isRevisionConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// List returns all rules ordered by id.
func (s *NATSStore) List(_ context.Context) ([]domain.Rule, error) {
	rules, _, err := s.load()
	if err != nil {
		return nil, storageError("list", err)
	}
	out := make([]domain.Rule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule)
	}
	sortRules(out)
	return out, nil
}

// Get reads one rule by id.
func (s *NATSStore) Get(_ context.Context, id string) (domain.Rule, bool, error) {
	rules, _, err := s.load()
	if err != nil {
		return domain.Rule{}, false, storageError("get", err)
	}
	rule, ok := rules[id]
	return rule, ok, nil
}

// Upsert replaces one rule.
func (s *NATSStore) Upsert(ctx context.Context, rule domain.Rule) error {
	return s.BulkUpsert(ctx, []domain.Rule{rule})
}

// BulkUpsert replaces listed rules in one CAS write.
func (s *NATSStore) BulkUpsert(ctx context.Context, rules []domain.Rule) error {
	return s.mutate(ctx, "bulk upsert", func(current map[string]domain.Rule) {
		for _, rule := range rules {
			current[rule.ID] = rule.Clone()
		}
	})
}

// Delete removes one rule; absent id is a no-op.
func (s *NATSStore) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", func(current map[string]domain.Rule) {
		delete(current, id)
	})
}

// Export returns the rule set read from a single KV revision.
func (s *NATSStore) Export(ctx context.Context) (Snapshot, error) {
	rules, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: SnapshotVersion, Rules: rules}, nil
}

// Restore replaces the whole rule set in one CAS write.
// Params: snapshot with non-nil rules.
// Returns: ErrInvalidSnapshot before writing when rules are missing.
func (s *NATSStore) Restore(ctx context.Context, snapshot Snapshot) error {
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}
	return s.mutate(ctx, "restore", func(current map[string]domain.Rule) {
		for id := range current {
			delete(current, id)
		}
		for _, rule := range snapshot.Rules {
			current[rule.ID] = rule.Clone()
		}
	})
}

// Close closes underlying NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
