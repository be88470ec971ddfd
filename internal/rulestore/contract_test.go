package rulestore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"kpipolicy/internal/domain"
)

// repoFactory returns an empty repository owned by the test.
type repoFactory func(t *testing.T) Repository

func testRule(id, kpi string) domain.Rule {
	return domain.Rule{
		ID:     id,
		When:   domain.When{KPIID: kpi, Severity: []domain.Severity{domain.SeverityWarn, domain.SeverityCrit}},
		Action: domain.ActionInventoryReorder,
		Params: domain.Params{
			"qty":  domain.SeverityVariant{domain.SeverityWarn: 100.0, domain.SeverityCrit: 250.0},
			"note": domain.DeltaTemplate("delta {delta}"),
			"sku":  domain.Scalar{Value: "A-1"},
		},
		Limits:      map[string]float64{"maxQty": 500},
		Window:      &domain.Window{Days: []int{1, 2, 3, 4, 5}, Start: "08:00", End: "18:00"},
		Approval:    &domain.Approval{Required: true, Roles: []domain.Role{domain.RoleManager}, BypassIfSeverity: domain.SeverityCrit},
		AutoExecute: true,
	}
}

// requireSameRules compares rules through their JSON form, which is what every backend persists.
func requireSameRules(t *testing.T, want, got []domain.Rule) {
	t.Helper()
	if want == nil {
		want = []domain.Rule{}
	}
	if got == nil {
		got = []domain.Rule{}
	}
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, string(wantJSON), string(gotJSON))
}

func ruleIDs(rules []domain.Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

// runRepositoryContract exercises behaviour every backend must share.
func runRepositoryContract(t *testing.T, newRepo repoFactory) {
	t.Run("empty list", func(t *testing.T) {
		repo := newRepo(t)
		rules, err := repo.List(context.Background())
		require.NoError(t, err)
		require.Empty(t, rules)
	})

	t.Run("upsert get and full replace", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		rule := testRule("r1", "stock_low")
		require.NoError(t, repo.Upsert(ctx, rule))

		got, found, err := repo.Get(ctx, "r1")
		require.NoError(t, err)
		require.True(t, found)
		requireSameRules(t, []domain.Rule{rule}, []domain.Rule{got})

		replacement := domain.Rule{
			ID:     "r1",
			When:   domain.When{KPIID: "margin", Severity: []domain.Severity{domain.SeverityCrit}},
			Action: domain.ActionPricingAdjust,
			Params: domain.Params{},
		}
		require.NoError(t, repo.Upsert(ctx, replacement))
		got, found, err = repo.Get(ctx, "r1")
		require.NoError(t, err)
		require.True(t, found)
		require.Nil(t, got.Window, "full replace must drop the old window")
		require.Nil(t, got.Approval, "full replace must drop the old approval")
		require.Equal(t, "margin", got.When.KPIID)
	})

	t.Run("get absent", func(t *testing.T) {
		repo := newRepo(t)
		_, found, err := repo.Get(context.Background(), "missing")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("list ordered by byte-wise id", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		for _, id := range []string{"b", "A", "a", "9", "10"} {
			require.NoError(t, repo.Upsert(ctx, testRule(id, "stock_low")))
		}
		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"10", "9", "A", "a", "b"}, ruleIDs(rules))
	})

	t.Run("bulk upsert then delete", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		ruleA := testRule("rule-a", "stock_low")
		ruleB := testRule("rule-b", "margin")

		require.NoError(t, repo.BulkUpsert(ctx, []domain.Rule{ruleA, ruleB}))
		require.NoError(t, repo.Delete(ctx, ruleA.ID))

		rules, err := repo.List(ctx)
		require.NoError(t, err)
		requireSameRules(t, []domain.Rule{ruleB}, rules)
	})

	t.Run("bulk upsert repeated id keeps last", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		first := testRule("dup", "stock_low")
		last := testRule("dup", "margin")

		require.NoError(t, repo.BulkUpsert(ctx, []domain.Rule{first, last}))
		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		require.Equal(t, "margin", rules[0].When.KPIID)
	})

	t.Run("bulk upsert merges with untouched rules", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.BulkUpsert(ctx, []domain.Rule{testRule("a", "stock_low"), testRule("c", "stock_low")}))

		replaced := domain.Rule{
			ID:     "c",
			When:   domain.When{KPIID: "margin", Severity: []domain.Severity{domain.SeverityCrit}},
			Action: domain.ActionPricingAdjust,
			Params: domain.Params{"pct": domain.Scalar{Value: -5.0}},
		}
		require.NoError(t, repo.BulkUpsert(ctx, []domain.Rule{testRule("b", "stock_low"), replaced}))

		rules, err := repo.List(ctx)
		require.NoError(t, err)
		requireSameRules(t, []domain.Rule{testRule("a", "stock_low"), testRule("b", "stock_low"), replaced}, rules)
		require.Nil(t, rules[2].Window, "replaced rule must not keep the old window")
		require.Nil(t, rules[2].Approval, "replaced rule must not keep the old approval")
		require.Empty(t, rules[2].Limits)
	})

	t.Run("bulk upsert empty is a no-op", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, testRule("keep", "stock_low")))
		require.NoError(t, repo.BulkUpsert(ctx, nil))
		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"keep"}, ruleIDs(rules))
	})

	t.Run("delete absent is a no-op", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, testRule("r1", "stock_low")))
		require.NoError(t, repo.Delete(ctx, "nope"))
		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 1)
	})

	t.Run("export restore round trip", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.BulkUpsert(ctx, []domain.Rule{testRule("b", "margin"), testRule("a", "stock_low")}))

		snapshot, err := repo.Export(ctx)
		require.NoError(t, err)
		require.Equal(t, SnapshotVersion, snapshot.Version)
		require.Equal(t, []string{"a", "b"}, ruleIDs(snapshot.Rules))

		first, err := snapshot.Encode()
		require.NoError(t, err)
		again, err := repo.Export(ctx)
		require.NoError(t, err)
		second, err := again.Encode()
		require.NoError(t, err)
		require.Equal(t, string(first), string(second), "exports of unchanged state must be byte-identical")

		require.NoError(t, repo.Upsert(ctx, testRule("c", "returns")))
		require.NoError(t, repo.Delete(ctx, "a"))

		decoded, err := DecodeSnapshot(first)
		require.NoError(t, err)
		require.NoError(t, repo.Restore(ctx, decoded))

		rules, err := repo.List(ctx)
		require.NoError(t, err)
		requireSameRules(t, snapshot.Rules, rules)
	})

	t.Run("restore empty clears", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, testRule("r1", "stock_low")))
		require.NoError(t, repo.Restore(ctx, Snapshot{Version: SnapshotVersion, Rules: []domain.Rule{}}))
		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Empty(t, rules)
	})

	t.Run("restore without rules leaves state", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, testRule("r1", "stock_low")))

		err := repo.Restore(ctx, Snapshot{Version: SnapshotVersion})
		require.ErrorIs(t, err, ErrInvalidSnapshot)

		rules, err := repo.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"r1"}, ruleIDs(rules))
	})

	t.Run("returned rules are detached", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, testRule("r1", "stock_low")))

		rules, err := repo.List(ctx)
		require.NoError(t, err)
		rules[0].When.Severity[0] = domain.SeverityOK
		rules[0].Limits["maxQty"] = 1

		got, _, err := repo.Get(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, domain.SeverityWarn, got.When.Severity[0])
		require.Equal(t, 500.0, got.Limits["maxQty"])
	})
}
