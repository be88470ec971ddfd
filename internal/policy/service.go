package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kpipolicy/internal/clock"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/engine"
	"kpipolicy/internal/metrics"
	"kpipolicy/internal/rulestore"
)

// AuditSink receives every decision produced by Service.Evaluate.
// Params: evaluated alert, caller roles, decision, and evaluation time.
// Returns: nothing; sinks are best-effort and must not block evaluation for long.
type AuditSink interface {
	Record(ctx context.Context, alert domain.Alert, roles []domain.Role, decision domain.Decision, evaluatedAt time.Time)
}

// Service is the validated entry point shared by every transport.
// Params: rule repository, decision engine, clock, and optional audit sink.
// Returns: rule management and evaluation operations.
type Service struct {
	repo   rulestore.Repository
	engine *engine.Engine
	clock  clock.Clock
	audit  AuditSink
	logger *slog.Logger
}

// New wires repository-backed engine and optional audit sink.
// Params: repository, clock (nil uses process local time), audit sink (nil disables), logger, metrics.
// Returns: ready policy service.
func New(repo rulestore.Repository, clk clock.Clock, audit AuditSink, logger *slog.Logger, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		engine: engine.New(repo, clk, logger, m),
		clock:  clk,
		audit:  audit,
		logger: logger,
	}
}

// ListRules returns every rule ordered by id.
func (s *Service) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.repo.List(ctx)
}

// GetRule returns one rule by id.
// Params: rule id.
// Returns: rule, found flag, and storage error.
func (s *Service) GetRule(ctx context.Context, id string) (domain.Rule, bool, error) {
	return s.repo.Get(ctx, id)
}

// UpsertRule validates and stores one rule, replacing any rule with the same id.
// Params: full rule.
// Returns: validation or storage error.
func (s *Service) UpsertRule(ctx context.Context, rule domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, rule); err != nil {
		return err
	}
	s.logger.Info("rule upserted", "rule_id", rule.ID, "kpi_id", rule.When.KPIID)
	return nil
}

// BulkUpsertRules validates the whole batch and stores it atomically.
// Params: rules; a repeated id keeps its last occurrence.
// Returns: validation error naming the first bad index, or storage error.
func (s *Service) BulkUpsertRules(ctx context.Context, rules []domain.Rule) error {
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	if err := s.repo.BulkUpsert(ctx, rules); err != nil {
		return err
	}
	s.logger.Info("rules upserted", "count", len(rules))
	return nil
}

// DeleteRule removes one rule; an absent id is not an error.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// Evaluate validates input and decides one alert against current rules.
// Params: alert and caller roles; roles are opaque and only compared with approver roles.
// Returns: Deny or Allow decision; error only for invalid alert or storage failure.
func (s *Service) Evaluate(ctx context.Context, alert domain.Alert, roles []domain.Role) (domain.Decision, error) {
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	decision, err := s.engine.EvaluateAt(ctx, alert, roles, now)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, alert, roles, decision, now)
	}
	return decision, nil
}

// ExportSnapshot serializes the whole rule set.
// Returns: deterministic JSON document or storage error.
func (s *Service) ExportSnapshot(ctx context.Context) ([]byte, error) {
	snapshot, err := s.repo.Export(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Encode()
}

// RestoreSnapshot replaces the whole rule set from a snapshot document.
// Params: JSON produced by ExportSnapshot.
// Returns: ErrInvalidSnapshot, validation, or storage error; state is untouched on any error.
func (s *Service) RestoreSnapshot(ctx context.Context, raw []byte) error {
	snapshot, err := rulestore.DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(snapshot.Rules))
	for i, rule := range snapshot.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if _, ok := seen[rule.ID]; ok {
			return fmt.Errorf("rules[%d]: %w: duplicate rule id %q", i, domain.ErrValidation, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	if err := s.repo.Restore(ctx, snapshot); err != nil {
		return err
	}
	s.logger.Info("rule snapshot restored", "count", len(snapshot.Rules))
	return nil
}
