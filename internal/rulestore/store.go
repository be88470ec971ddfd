package rulestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"kpipolicy/internal/domain"
)

// SnapshotVersion is the only snapshot layout this package writes and reads.
const SnapshotVersion = 1

var (
	// ErrStorage wraps any failure of the underlying store.
	ErrStorage = errors.New("rule storage failure")
	// ErrInvalidSnapshot marks a snapshot document without a rules array.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrConflict indicates a lost compare-and-swap race after all retries.
	ErrConflict = errors.New("revision conflict")
)

// Repository persists policy rules keyed by id.
//
// Implementations never validate rule shape: callers (policy.Service) must
// validate before Upsert, BulkUpsert, and Restore. List and Export return
// rules in ascending byte-wise id order. BulkUpsert and Restore are
// all-or-nothing. Deleting an absent id is a no-op.
type Repository interface {
	List(ctx context.Context) ([]domain.Rule, error)
	Get(ctx context.Context, id string) (domain.Rule, bool, error)
	Upsert(ctx context.Context, rule domain.Rule) error
	BulkUpsert(ctx context.Context, rules []domain.Rule) error
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context) (Snapshot, error)
	Restore(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// Snapshot is the portable form of the whole rule set.
type Snapshot struct {
	Version int           `json:"version"`
	Rules   []domain.Rule `json:"rules"`
}

// NewSnapshot builds a versioned snapshot with rules sorted by id.
// Params: rules in any order.
// Returns: snapshot owning a sorted copy of rules (never nil).
func NewSnapshot(rules []domain.Rule) Snapshot {
	out := make([]domain.Rule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return Snapshot{Version: SnapshotVersion, Rules: out}
}

// Encode marshals snapshot as indented JSON with a trailing newline.
// Params: snapshot value.
// Returns: deterministic bytes for equal rule sets.
func (s Snapshot) Encode() ([]byte, error) {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(body, '\n'), nil
}

// DecodeSnapshot parses a snapshot document.
// Params: raw JSON bytes.
// Returns: snapshot or ErrInvalidSnapshot when the rules array is missing or malformed.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	rulesRaw, ok := probe["rules"]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: rules array is missing", ErrInvalidSnapshot)
	}
	trimmed := bytes.TrimSpace(rulesRaw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Snapshot{}, fmt.Errorf("%w: rules must be an array", ErrInvalidSnapshot)
	}

	snapshot := Snapshot{Version: SnapshotVersion}
	if versionRaw, ok := probe["version"]; ok {
		if err := json.Unmarshal(versionRaw, &snapshot.Version); err != nil {
			return Snapshot{}, fmt.Errorf("%w: version: %w", ErrInvalidSnapshot, err)
		}
	}
	if snapshot.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snapshot.Version)
	}
	rules := make([]domain.Rule, 0)
	if err := json.Unmarshal(trimmed, &rules); err != nil {
		return Snapshot{}, fmt.Errorf("%w: rules: %w", ErrInvalidSnapshot, err)
	}
	snapshot.Rules = rules
	return snapshot, nil
}

// checkSnapshot rejects a snapshot that carries no rule list.
func checkSnapshot(snapshot Snapshot) error {
	if snapshot.Rules == nil {
		return fmt.Errorf("%w: rules array is missing", ErrInvalidSnapshot)
	}
	return nil
}

// sortRules orders rules by id using byte-wise string comparison.
func sortRules(rules []domain.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}

// storageError wraps backend failure with ErrStorage and operation context.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
