package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kpipolicy/internal/clock"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/metrics"
)

// RuleLister is the read side of the rule repository used by the engine.
type RuleLister interface {
	List(ctx context.Context) ([]domain.Rule, error)
}

// Engine evaluates alerts against the current rule set.
// Params: rule source, clock, logger, and optional metrics.
// Returns: stateless evaluator; safe for concurrent use.
type Engine struct {
	rules   RuleLister
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs engine with injected dependencies.
// Params: rule lister, clock (real process clock when nil), logger, metrics (nil disables).
// Returns: ready engine.
func New(rules RuleLister, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, clock: clk, logger: logger, metrics: m}
}

// Evaluate decides one alert at the current clock time.
// Params: context, validated alert, and caller roles.
// Returns: decision or repository error.
func (e *Engine) Evaluate(ctx context.Context, alert domain.Alert, roles []domain.Role) (domain.Decision, error) {
	return e.EvaluateAt(ctx, alert, roles, e.clock.Now())
}

// EvaluateAt decides one alert at an explicit instant.
// Params: context, validated alert, caller roles, and now in the caller time zone.
// Returns: decision or repository error; never a partial decision.
func (e *Engine) EvaluateAt(ctx context.Context, alert domain.Alert, roles []domain.Role, now time.Time) (domain.Decision, error) {
	started := time.Now()
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	decision := Decide(roles, alert, rules, now)
	outcome, reason := domain.DecisionOutcome(decision)
	e.metrics.ObserveDecision(outcome, reason, time.Since(started))
	e.logger.Debug(
		"alert evaluated",
		"alert_id", alert.ID,
		"kpi_id", alert.KPIID,
		"severity", alert.Severity,
		"outcome", outcome,
		"reason", reason,
		"rules", len(rules),
	)
	return decision, nil
}
