package rulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresPingTimeout = 2 * time.Second

	createRulesTableSQL = `CREATE TABLE IF NOT EXISTS policy_rules (
	id           text PRIMARY KEY,
	kpi_id       text NOT NULL,
	action       text NOT NULL,
	auto_execute boolean NOT NULL DEFAULT false,
	auto_suggest boolean NOT NULL DEFAULT false,
	severity     jsonb NOT NULL,
	params       jsonb NOT NULL,
	limits       jsonb NOT NULL,
	time_window  jsonb,
	approval     jsonb,
	updated_at   timestamptz NOT NULL DEFAULT now()
)`

	selectRuleColumns = `SELECT id, kpi_id, action, auto_execute, auto_suggest, severity, params, limits, time_window, approval FROM policy_rules`

	upsertRuleSQL = `INSERT INTO policy_rules
	(id, kpi_id, action, auto_execute, auto_suggest, severity, params, limits, time_window, approval, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, now())
ON CONFLICT (id) DO UPDATE SET
	kpi_id = EXCLUDED.kpi_id,
	action = EXCLUDED.action,
	auto_execute = EXCLUDED.auto_execute,
	auto_suggest = EXCLUDED.auto_suggest,
	severity = EXCLUDED.severity,
	params = EXCLUDED.params,
	limits = EXCLUDED.limits,
	time_window = EXCLUDED.time_window,
	approval = EXCLUDED.approval,
	updated_at = now()`
)

// PostgresStore persists one row per rule with jsonb columns for nested fields.
// Params: pgx connection pool.
// Returns: repository with SQL transactions for batch mutations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with retries and ensures the rules table exists.
// Params: context bounding connect attempts and postgres settings.
// Returns: ready store or ErrStorage-wrapped connect error.
func NewPostgresStore(ctx context.Context, settings config.PostgresStoreConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(settings.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if settings.MaxConns > 0 {
		poolCfg.MaxConns = int32(settings.MaxConns)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := connectPool(ctx, poolCfg, settings.ConnectRetries, time.Duration(settings.RetryDelayMS)*time.Millisecond)
	if err != nil {
		return nil, storageError("connect", err)
	}
	if _, err := pool.Exec(ctx, createRulesTableSQL); err != nil {
		pool.Close()
		return nil, storageError("migrate", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// connectPool opens the pool and pings until success or retries are exhausted.
// Params: context, pool config, attempt count, and delay between attempts.
// Returns: healthy pool or last connect/ping error.
func connectPool(ctx context.Context, cfg *pgxpool.Config, retries int, delay time.Duration) (*pgxpool.Pool, error) {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("connect cancelled: %w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

// List returns all rules ordered by id using byte-wise collation.
func (s *PostgresStore) List(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.pool.Query(ctx, selectRuleColumns+` ORDER BY id COLLATE "C"`)
	if err != nil {
		return nil, storageError("list", err)
	}
	defer rows.Close()

	out := make([]domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storageError("list", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list", err)
	}
	return out, nil
}

// Get reads one rule by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Rule, bool, error) {
	row := s.pool.QueryRow(ctx, selectRuleColumns+` WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rule{}, false, nil
		}
		return domain.Rule{}, false, storageError("get", err)
	}
	return rule, true, nil
}

// Upsert inserts or fully replaces one rule.
func (s *PostgresStore) Upsert(ctx context.Context, rule domain.Rule) error {
	args, err := ruleArgs(rule)
	if err != nil {
		return storageError("upsert", err)
	}
	if _, err := s.pool.Exec(ctx, upsertRuleSQL, args...); err != nil {
		return storageError("upsert", err)
	}
	return nil
}

// BulkUpsert replaces all rules inside one transaction.
// Params: rules to write; later duplicates win.
// Returns: ErrStorage-wrapped error with the transaction rolled back on failure.
func (s *PostgresStore) BulkUpsert(ctx context.Context, rules []domain.Rule) error {
	batch, err := upsertBatch(rules)
	if err != nil {
		return storageError("bulk upsert", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return storageError("bulk upsert", err)
	}
	return nil
}

// Delete removes one rule; absent id is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM policy_rules WHERE id = $1`, id); err != nil {
		return storageError("delete", err)
	}
	return nil
}

// Export reads all rules inside one repeatable-read transaction.
func (s *PostgresStore) Export(ctx context.Context) (Snapshot, error) {
	var rules []domain.Rule
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectRuleColumns+` ORDER BY id COLLATE "C"`)
		if err != nil {
			return err
		}
		collected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Rule, error) {
			return scanRule(row)
		})
		if err != nil {
			return err
		}
		rules = collected
		return nil
	})
	if err != nil {
		return Snapshot{}, storageError("export", err)
	}
	if rules == nil {
		rules = make([]domain.Rule, 0)
	}
	return Snapshot{Version: SnapshotVersion, Rules: rules}, nil
}

// Restore truncates and reloads the table inside one transaction.
// Params: snapshot with non-nil rules.
// Returns: ErrInvalidSnapshot before touching the table when rules are missing.
func (s *PostgresStore) Restore(ctx context.Context, snapshot Snapshot) error {
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}
	batch, err := upsertBatch(snapshot.Rules)
	if err != nil {
		return storageError("restore", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM policy_rules`); err != nil {
			return err
		}
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return storageError("restore", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// upsertBatch queues one upsert statement per rule.
func upsertBatch(rules []domain.Rule) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, rule := range rules {
		args, err := ruleArgs(rule)
		if err != nil {
			return nil, err
		}
		batch.Queue(upsertRuleSQL, args...)
	}
	return batch, nil
}

// execBatch sends queued statements and checks every result.
func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}

// ruleArgs encodes one rule into upsert statement arguments.
func ruleArgs(rule domain.Rule) ([]any, error) {
	severity, err := json.Marshal(rule.When.Severity)
	if err != nil {
		return nil, fmt.Errorf("encode severity: %w", err)
	}
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	limits := rule.Limits
	if limits == nil {
		limits = map[string]float64{}
	}
	limitsBody, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("encode limits: %w", err)
	}
	var window, approval any
	if rule.Window != nil {
		body, err := json.Marshal(rule.Window)
		if err != nil {
			return nil, fmt.Errorf("encode window: %w", err)
		}
		window = string(body)
	}
	if rule.Approval != nil {
		body, err := json.Marshal(rule.Approval)
		if err != nil {
			return nil, fmt.Errorf("encode approval: %w", err)
		}
		approval = string(body)
	}
	return []any{
		rule.ID,
		rule.When.KPIID,
		string(rule.Action),
		rule.AutoExecute,
		rule.AutoSuggest,
		string(severity),
		string(params),
		string(limitsBody),
		window,
		approval,
	}, nil
}

// scanRule decodes one policy_rules row.
func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		rule                     domain.Rule
		action                   string
		severity, params, limits []byte
		window, approval         []byte
	)
	if err := row.Scan(
		&rule.ID,
		&rule.When.KPIID,
		&action,
		&rule.AutoExecute,
		&rule.AutoSuggest,
		&severity,
		&params,
		&limits,
		&window,
		&approval,
	); err != nil {
		return domain.Rule{}, err
	}
	rule.Action = domain.Action(action)
	if err := json.Unmarshal(severity, &rule.When.Severity); err != nil {
		return domain.Rule{}, fmt.Errorf("decode severity of %q: %w", rule.ID, err)
	}
	if err := json.Unmarshal(params, &rule.Params); err != nil {
		return domain.Rule{}, fmt.Errorf("decode params of %q: %w", rule.ID, err)
	}
	if err := json.Unmarshal(limits, &rule.Limits); err != nil {
		return domain.Rule{}, fmt.Errorf("decode limits of %q: %w", rule.ID, err)
	}
	if len(window) > 0 {
		rule.Window = &domain.Window{}
		if err := json.Unmarshal(window, rule.Window); err != nil {
			return domain.Rule{}, fmt.Errorf("decode window of %q: %w", rule.ID, err)
		}
	}
	if len(approval) > 0 {
		rule.Approval = &domain.Approval{}
		if err := json.Unmarshal(approval, rule.Approval); err != nil {
			return domain.Rule{}, fmt.Errorf("decode approval of %q: %w", rule.ID, err)
		}
	}
	return rule, nil
}
