package rulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"

	bolt "go.etcd.io/bbolt"
)

var rulesBucket = []byte("rules")

// BoltStore persists rules in an embedded bbolt file.
// Params: one bucket keyed by rule id with JSON-encoded rule values.
// Returns: repository whose mutations run in single bbolt transactions.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the rules database file.
// Params: bolt settings (path and open timeout).
// Returns: ready store or ErrStorage-wrapped open error.
func NewBoltStore(settings config.BoltStoreConfig) (*BoltStore, error) {
	if settings.Path == "" {
		return nil, errors.New("bolt store path required")
	}
	if dir := filepath.Dir(settings.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageError("mkdir", err)
		}
	}
	timeout := time.Duration(settings.OpenTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(settings.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, storageError("open", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rulesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, storageError("init bucket", err)
	}
	return &BoltStore{db: db}, nil
}

// List returns all rules in key order, which is byte-wise id order.
func (s *BoltStore) List(_ context.Context) ([]domain.Rule, error) {
	out := make([]domain.Rule, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rulesBucket)
		if bucket == nil {
			return errors.New("rules bucket missing")
		}
		return bucket.ForEach(func(key, value []byte) error {
			rule, err := decodeRule(value)
			if err != nil {
				return fmt.Errorf("rule %q: %w", key, err)
			}
			out = append(out, rule)
			return nil
		})
	})
	if err != nil {
		return nil, storageError("list", err)
	}
	return out, nil
}

// Get reads one rule by id.
func (s *BoltStore) Get(_ context.Context, id string) (domain.Rule, bool, error) {
	var (
		rule  domain.Rule
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rulesBucket)
		if bucket == nil {
			return errors.New("rules bucket missing")
		}
		value := bucket.Get([]byte(id))
		if value == nil {
			return nil
		}
		decoded, err := decodeRule(value)
		if err != nil {
			return err
		}
		rule, found = decoded, true
		return nil
	})
	if err != nil {
		return domain.Rule{}, false, storageError("get", err)
	}
	return rule, found, nil
}

// Upsert writes one rule.
func (s *BoltStore) Upsert(ctx context.Context, rule domain.Rule) error {
	return s.BulkUpsert(ctx, []domain.Rule{rule})
}

// BulkUpsert writes all rules in one transaction.
// Params: rules to replace by id; later duplicates win.
// Returns: ErrStorage-wrapped error with nothing written on failure.
func (s *BoltStore) BulkUpsert(_ context.Context, rules []domain.Rule) error {
	encoded, err := encodeRules(rules)
	if err != nil {
		return storageError("bulk upsert", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rulesBucket)
		if bucket == nil {
			return errors.New("rules bucket missing")
		}
		for _, entry := range encoded {
			if err := bucket.Put(entry.key, entry.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageError("bulk upsert", err)
	}
	return nil
}

// Delete removes one rule; absent id is a no-op.
func (s *BoltStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rulesBucket)
		if bucket == nil {
			return errors.New("rules bucket missing")
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return storageError("delete", err)
	}
	return nil
}

// Export reads all rules inside one read transaction.
func (s *BoltStore) Export(ctx context.Context) (Snapshot, error) {
	rules, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: SnapshotVersion, Rules: rules}, nil
}

// Restore replaces the bucket content in one transaction.
// Params: snapshot with non-nil rules.
// Returns: ErrInvalidSnapshot before touching the file when rules are missing.
func (s *BoltStore) Restore(_ context.Context, snapshot Snapshot) error {
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}
	encoded, err := encodeRules(snapshot.Rules)
	if err != nil {
		return storageError("restore", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(rulesBucket) != nil {
			if err := tx.DeleteBucket(rulesBucket); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket(rulesBucket)
		if err != nil {
			return err
		}
		for _, entry := range encoded {
			if err := bucket.Put(entry.key, entry.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageError("restore", err)
	}
	return nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type encodedRule struct {
	key   []byte
	value []byte
}

// encodeRules marshals rules ahead of the write transaction.
func encodeRules(rules []domain.Rule) ([]encodedRule, error) {
	out := make([]encodedRule, 0, len(rules))
	for _, rule := range rules {
		body, err := json.Marshal(rule)
		if err != nil {
			return nil, fmt.Errorf("encode rule %q: %w", rule.ID, err)
		}
		out = append(out, encodedRule{key: []byte(rule.ID), value: body})
	}
	return out, nil
}

func decodeRule(body []byte) (domain.Rule, error) {
	var rule domain.Rule
	if err := json.Unmarshal(body, &rule); err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	return rule, nil
}
