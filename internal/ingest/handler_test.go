package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/engine"
	"kpipolicy/internal/metrics"
	"kpipolicy/internal/rulestore"
	natstest "kpipolicy/test/testutil"
)

// 2026-03-04 is a Wednesday.
var wednesdayNoon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type staticEvaluator struct {
	rules []domain.Rule
	err   error
	seen  context.Context
}

func (e *staticEvaluator) Evaluate(ctx context.Context, alert domain.Alert, roles []domain.Role) (domain.Decision, error) {
	e.seen = ctx
	if e.err != nil {
		return nil, e.err
	}
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	return engine.Decide(roles, alert, e.rules, wednesdayNoon), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stockRule() domain.Rule {
	return domain.Rule{
		ID:     "r1",
		When:   domain.When{KPIID: "stock_low", Severity: []domain.Severity{domain.SeverityWarn, domain.SeverityCrit}},
		Action: domain.ActionInventoryReorder,
		Params: domain.Params{"qty": domain.SeverityVariant{domain.SeverityWarn: 100.0, domain.SeverityCrit: 250.0}},
		Approval: &domain.Approval{
			Required:         true,
			Roles:            []domain.Role{domain.RoleManager},
			BypassIfSeverity: domain.SeverityCrit,
		},
		AutoExecute: true,
	}
}

func decodeErrorReply(t *testing.T, body []byte) ErrorReply {
	t.Helper()
	var reply ErrorReply
	if err := json.Unmarshal(body, &reply); err != nil {
		t.Fatalf("decode error reply %s: %v", body, err)
	}
	return reply
}

func TestHandleRequestMatchesDecide(t *testing.T) {
	t.Parallel()

	rules := []domain.Rule{stockRule()}
	m := metrics.New()
	handler := NewHandler(&staticEvaluator{rules: rules}, time.Second, quietLogger(), m)

	alert := domain.Alert{ID: "a1", KPIID: "stock_low", Severity: domain.SeverityWarn}
	roles := []domain.Role{domain.RoleOperator}
	body, err := json.Marshal(Request{Alert: alert, Roles: roles})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	reply := handler.HandleRequest(context.Background(), body)
	got, err := domain.DecodeDecision(reply)
	if err != nil {
		t.Fatalf("decode reply %s: %v", reply, err)
	}
	wantJSON, err := json.Marshal(engine.Decide(roles, alert, rules, wednesdayNoon))
	if err != nil {
		t.Fatalf("marshal want: %v", err)
	}
	want, err := domain.DecodeDecision(wantJSON)
	if err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("reply differs from decide:\nwant %#v\ngot  %#v", want, got)
	}
	if testutil.ToFloat64(m.Requests("ok")) != 1 {
		t.Fatalf("expected one ok request counted")
	}
}

func TestHandleRequestErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		evalErr  error
		wantKind string
	}{
		{name: "malformed json", body: `{"alert":`, wantKind: KindValidation},
		{name: "invalid alert", body: `{"alert":{"id":"a1","kpiId":"","severity":"warn"}}`, wantKind: KindValidation},
		{name: "storage failure", body: `{"alert":{"id":"a1","kpiId":"k","severity":"warn"}}`, evalErr: fmt.Errorf("list rules: %w", rulestore.ErrStorage), wantKind: KindStorage},
		{name: "deadline", body: `{"alert":{"id":"a1","kpiId":"k","severity":"warn"}}`, evalErr: context.DeadlineExceeded, wantKind: KindTimeout},
		{name: "unknown failure", body: `{"alert":{"id":"a1","kpiId":"k","severity":"warn"}}`, evalErr: errors.New("boom"), wantKind: KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := metrics.New()
			handler := NewHandler(&staticEvaluator{err: tc.evalErr}, 0, quietLogger(), m)
			reply := decodeErrorReply(t, handler.HandleRequest(context.Background(), []byte(tc.body)))
			if reply.Kind != tc.wantKind || reply.Error == "" {
				t.Fatalf("expected kind %q with message, got %+v", tc.wantKind, reply)
			}
			if testutil.ToFloat64(m.Requests(tc.wantKind)) != 1 {
				t.Fatalf("expected %q request counted", tc.wantKind)
			}
		})
	}
}

func TestHandleRequestAppliesTimeout(t *testing.T) {
	t.Parallel()

	evaluator := &staticEvaluator{rules: []domain.Rule{stockRule()}}
	handler := NewHandler(evaluator, 50*time.Millisecond, nil, nil)
	_ = handler.HandleRequest(context.Background(), []byte(`{"alert":{"id":"a1","kpiId":"stock_low","severity":"crit"}}`))
	if _, ok := evaluator.seen.Deadline(); !ok {
		t.Fatalf("expected evaluator context to carry a deadline")
	}
}

func TestNATSResponderRequestReply(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	natsURL, stopNATS := natstest.StartLocalNATSServer(t)
	defer stopNATS()

	cfg := config.EvaluateConfig{Enabled: true, Subject: "kpipolicy.evaluate.test", QueueGroup: "evaluators"}
	handler := NewHandler(&staticEvaluator{rules: []domain.Rule{stockRule()}}, time.Second, quietLogger(), nil)
	responder, err := NewNATSResponder([]string{natsURL}, cfg, handler, quietLogger())
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	defer func() { _ = responder.Close() }()

	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	msg, err := nc.Request(cfg.Subject, []byte(`{"alert":{"id":"a1","kpiId":"stock_low","severity":"crit"},"roles":["operator"]}`), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	decision, err := domain.DecodeDecision(msg.Data)
	if err != nil {
		t.Fatalf("decode decision %s: %v", msg.Data, err)
	}
	allow, ok := decision.(domain.Allow)
	if !ok || !allow.Execute || allow.ResolvedParams["qty"] != 250.0 {
		t.Fatalf("unexpected decision %#v", decision)
	}

	msg, err = nc.Request(cfg.Subject, []byte(`{"alert":{"id":"a2","kpiId":"stock_low","severity":"fatal"}}`), 2*time.Second)
	if err != nil {
		t.Fatalf("request invalid: %v", err)
	}
	if reply := decodeErrorReply(t, msg.Data); reply.Kind != KindValidation {
		t.Fatalf("expected validation error reply, got %+v", reply)
	}
}
