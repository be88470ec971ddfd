package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"
	"kpipolicy/test/testutil"

	"github.com/nats-io/nats.go"
)

type memoryPublisher struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (p *memoryPublisher) Publish(_ context.Context, record Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, record)
	return nil
}

func (p *memoryPublisher) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRecordCarriesDecision(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	alert := domain.Alert{ID: "a1", KPIID: "stock_low", Severity: domain.SeverityWarn}
	decision := domain.Allow{NeedsApproval: true, ApproverRoles: []domain.Role{domain.RoleManager}, RuleID: "r1", ResolvedParams: map[string]any{"qty": 100.0}}

	first, err := NewRecord(alert, nil, decision, at)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	second, err := NewRecord(alert, nil, decision, at)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected unique record ids, got %q and %q", first.ID, second.ID)
	}
	if first.Outcome != "pending_approval" || first.Reason != "r1" {
		t.Fatalf("unexpected outcome %q/%q", first.Outcome, first.Reason)
	}
	if first.EvaluatedAt.Location() != time.UTC || !first.EvaluatedAt.Equal(at) {
		t.Fatalf("expected UTC evaluation time, got %v", first.EvaluatedAt)
	}
	if first.Roles == nil {
		t.Fatalf("expected empty roles slice, got nil")
	}

	decoded, err := domain.DecodeDecision(first.Decision)
	if err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	allow, ok := decoded.(domain.Allow)
	if !ok || allow.RuleID != "r1" || !allow.NeedsApproval {
		t.Fatalf("unexpected decoded decision %#v", decoded)
	}
}

func TestSinkDropsPublishFailures(t *testing.T) {
	t.Parallel()

	publisher := &memoryPublisher{err: errors.New("stream unavailable")}
	sink := NewSink(publisher, quietLogger())
	sink.Record(context.Background(), domain.Alert{ID: "a1"}, nil, domain.Deny{Reason: domain.ReasonNoMatchingRule}, time.Now())
	if len(publisher.records) != 0 {
		t.Fatalf("expected no stored records, got %d", len(publisher.records))
	}

	publisher.err = nil
	sink.Record(context.Background(), domain.Alert{ID: "a2"}, nil, domain.Deny{Reason: domain.ReasonOutsideWindow}, time.Now())
	if len(publisher.records) != 1 || publisher.records[0].Reason != domain.ReasonOutsideWindow {
		t.Fatalf("expected one deny record, got %+v", publisher.records)
	}
}

func TestSinkPublishesAfterCallerCancel(t *testing.T) {
	t.Parallel()

	publisher := &memoryPublisher{}
	sink := NewSink(publisher, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Record(ctx, domain.Alert{ID: "a1"}, nil, domain.Deny{Reason: domain.ReasonNoMatchingRule}, time.Now())
	if len(publisher.records) != 1 {
		t.Fatalf("expected record despite canceled caller context, got %d", len(publisher.records))
	}
}

func TestNATSPublisherWritesStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	cfg := config.AuditConfig{Enabled: true, Stream: "KPIPOLICY_AUDIT_TEST", Subject: "kpipolicy.audit.test"}
	publisher, err := NewNATSPublisher([]string{natsURL}, cfg)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer func() { _ = publisher.Close() }()

	record, err := NewRecord(domain.Alert{ID: "a1", KPIID: "stock_low", Severity: domain.SeverityCrit}, []domain.Role{domain.RoleOperator}, domain.Allow{Execute: true, RuleID: "r1", ResolvedParams: map[string]any{}}, time.Now())
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	ctx := context.Background()
	if err := publisher.Publish(ctx, record); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := publisher.Publish(ctx, record); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	info, err := js.StreamInfo(cfg.Stream)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected duplicate publish to be deduplicated, got %d messages", info.State.Msgs)
	}

	stored, err := js.GetLastMsg(cfg.Stream, cfg.Subject)
	if err != nil {
		t.Fatalf("get last msg: %v", err)
	}
	var got Record
	if err := json.Unmarshal(stored.Data, &got); err != nil {
		t.Fatalf("decode stored record: %v", err)
	}
	if got.ID != record.ID || got.Outcome != "execute" {
		t.Fatalf("unexpected stored record %+v", got)
	}
}
