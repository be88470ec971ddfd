package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kpipolicy/internal/clock"
	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/rulestore"
)

const seedConfig = `[service]
timezone = "UTC"
seed_mode = "%s"

[log.console]
enabled = true
level = "error"

[store]
backend = "bolt"

[store.bolt]
path = "%s"

[http]
enabled = true
listen = "127.0.0.1:0"

[rule.r1]
kpi_id = "stock_low"
severity = ["warn", "crit"]
action = "inventory.reorder"
auto_execute = true

[rule.r1.params]
qty = { warn = 100, crit = 250 }

[rule.r1.approval]
required = true
roles = ["manager"]
bypass_if_severity = "crit"
`

// 2026-03-04 is a Wednesday.
var wednesdayNoon = clock.Func(func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) })

func writeConfig(t *testing.T, seedMode, dbPath string) config.ConfigSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kpipolicy.toml")
	body := fmt.Sprintf(seedConfig, seedMode, filepath.ToSlash(dbPath))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.ConfigSource{File: path}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	response, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return response.StatusCode, string(body)
}

func TestServiceSeedsRulesAndServesOps(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "rules.db")
	service, err := NewService(context.Background(), writeConfig(t, config.SeedModeUpsert, dbPath), wednesdayNoon)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	base := "http://" + service.HTTPAddr()
	deadline := time.Now().Add(3 * time.Second)
	for {
		status, _ := httpGet(t, base+"/readyz")
		if status == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("service did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status, body := httpGet(t, base+"/healthz"); status != http.StatusOK || body != "ok" {
		t.Fatalf("unexpected health response %d %q", status, body)
	}

	decision, err := service.Policy().Evaluate(context.Background(), domain.Alert{ID: "a1", KPIID: "stock_low", Severity: domain.SeverityWarn}, []domain.Role{domain.RoleManager})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow, ok := decision.(domain.Allow); !ok || !allow.Execute || allow.RuleID != "r1" {
		t.Fatalf("unexpected decision %#v", decision)
	}

	status, body := httpGet(t, base+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", status)
	}
	if !strings.Contains(body, `kpipolicy_decisions_total{outcome="execute",reason="r1"} 1`) {
		t.Fatalf("metrics missing decision counter:\n%s", body)
	}
	if !strings.Contains(body, `kpipolicy_store_op_duration_seconds_count{backend="bolt",op="bulk_upsert"}`) {
		t.Fatalf("metrics missing store timing:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestServiceSeedRestoreReplacesStoredRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "rules.db")

	store, err := rulestore.NewBoltStore(config.BoltStoreConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	stale := domain.Rule{
		ID:     "stale",
		When:   domain.When{KPIID: "margin", Severity: []domain.Severity{domain.SeverityCrit}},
		Action: domain.ActionPricingAdjust,
	}
	if err := store.Upsert(ctx, stale); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close bolt: %v", err)
	}

	source := writeConfig(t, config.SeedModeRestore, dbPath)
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.HTTP.Enabled = false
	service, err := NewServiceFromConfig(ctx, cfg, wednesdayNoon)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = service.shutdown() }()

	rules, err := service.Policy().ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "r1" {
		t.Fatalf("expected restore to leave only r1, got %+v", rules)
	}
	if service.HTTPAddr() != "" {
		t.Fatalf("http listener must stay closed when disabled")
	}
}

func TestServiceRejectsBrokenStore(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadSnapshot(writeConfig(t, config.SeedModeOff, filepath.Join(t.TempDir(), "rules.db")))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg.Store.Bolt.Path = filepath.Join(blocker, "rules.db")

	_, err = NewServiceFromConfig(context.Background(), cfg, wednesdayNoon)
	if err == nil {
		t.Fatalf("expected store setup error")
	}
	if errors.Is(err, domain.ErrValidation) {
		t.Fatalf("store failure must not look like validation: %v", err)
	}
}
