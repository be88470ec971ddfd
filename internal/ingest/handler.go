package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"kpipolicy/internal/domain"
	"kpipolicy/internal/metrics"
	"kpipolicy/internal/rulestore"
)

// Error kinds reported in ErrorReply.Kind.
const (
	KindValidation = "validation"
	KindStorage    = "storage"
	KindTimeout    = "timeout"
	KindInternal   = "internal"
)

// Evaluator decides one alert for a set of caller roles.
// Params: context, alert, and roles.
// Returns: decision or validation/storage error.
type Evaluator interface {
	Evaluate(ctx context.Context, alert domain.Alert, roles []domain.Role) (domain.Decision, error)
}

// Request is the evaluate request body.
type Request struct {
	Alert domain.Alert  `json:"alert"`
	Roles []domain.Role `json:"roles"`
}

// ErrorReply is returned instead of a decision when evaluation cannot run.
type ErrorReply struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handler turns raw request bytes into reply bytes.
// Params: evaluator, per-request timeout, logger, and metrics.
// Returns: transport-neutral evaluate handler.
type Handler struct {
	evaluator Evaluator
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler creates evaluate handler.
// Params: evaluator, timeout (zero disables), optional logger and metrics.
// Returns: configured handler.
func NewHandler(evaluator Evaluator, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{evaluator: evaluator, timeout: timeout, logger: logger, metrics: m}
}

// HandleRequest decodes one request, evaluates it, and encodes the reply.
// Params: context and request body `{"alert": ..., "roles": [...]}`.
// Returns: decision JSON or ErrorReply JSON; never nil.
func (h *Handler) HandleRequest(ctx context.Context, data []byte) []byte {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return h.fail(KindValidation, "decode request: "+err.Error())
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	decision, err := h.evaluator.Evaluate(ctx, request.Alert, request.Roles)
	if err != nil {
		kind := errorKind(err)
		if kind != KindValidation {
			h.logger.Error("evaluate request failed", "alert_id", request.Alert.ID, "kind", kind, "error", err.Error())
		}
		return h.fail(kind, err.Error())
	}

	body, err := json.Marshal(decision)
	if err != nil {
		h.logger.Error("encode decision failed", "alert_id", request.Alert.ID, "error", err.Error())
		return h.fail(KindInternal, "encode decision: "+err.Error())
	}
	h.metrics.ObserveRequest("ok")
	return body
}

// fail encodes an error reply and counts it.
func (h *Handler) fail(kind, message string) []byte {
	h.metrics.ObserveRequest(kind)
	body, err := json.Marshal(ErrorReply{Error: message, Kind: kind})
	if err != nil {
		return []byte(`{"error":"encode error reply","kind":"internal"}`)
	}
	return body
}

// errorKind classifies evaluation errors for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, rulestore.ErrStorage), errors.Is(err, rulestore.ErrConflict):
		return KindStorage
	default:
		return KindInternal
	}
}
