package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kpipolicy/internal/domain"
)

const publishTimeout = 2 * time.Second

// Record is one audited evaluation.
// Params: evaluated alert, caller roles, outcome label, and encoded decision.
// Returns: audit stream payload.
type Record struct {
	ID          string          `json:"id"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Alert       domain.Alert    `json:"alert"`
	Roles       []domain.Role   `json:"roles"`
	Outcome     string          `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Decision    json.RawMessage `json:"decision"`
}

// NewRecord builds audit record with a fresh random id.
// Params: alert, roles, decision, and evaluation time.
// Returns: record or decision encoding error.
func NewRecord(alert domain.Alert, roles []domain.Role, decision domain.Decision, evaluatedAt time.Time) (Record, error) {
	body, err := json.Marshal(decision)
	if err != nil {
		return Record{}, fmt.Errorf("marshal audited decision: %w", err)
	}
	outcome, reason := domain.DecisionOutcome(decision)
	if roles == nil {
		roles = []domain.Role{}
	}
	return Record{
		ID:          uuid.NewString(),
		EvaluatedAt: evaluatedAt.UTC(),
		Alert:       alert,
		Roles:       append([]domain.Role(nil), roles...),
		Outcome:     outcome,
		Reason:      reason,
		Decision:    body,
	}, nil
}

// Publisher ships audit records to durable storage.
// Params: context and record.
// Returns: publish error.
type Publisher interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// Sink adapts a Publisher to best-effort per-decision auditing.
// Params: publisher and logger for dropped records.
// Returns: decision sink that never fails the caller.
type Sink struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewSink creates best-effort audit sink.
// Params: publisher and optional logger.
// Returns: sink ready for policy service.
func NewSink(publisher Publisher, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{publisher: publisher, logger: logger}
}

// Record publishes one decision; failures are logged and dropped.
func (s *Sink) Record(ctx context.Context, alert domain.Alert, roles []domain.Role, decision domain.Decision, evaluatedAt time.Time) {
	record, err := NewRecord(alert, roles, decision, evaluatedAt)
	if err != nil {
		s.logger.Warn("audit record build failed", "alert_id", alert.ID, "error", err.Error())
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, record); err != nil {
		s.logger.Warn("audit publish failed", "record_id", record.ID, "alert_id", alert.ID, "error", err.Error())
	}
}
