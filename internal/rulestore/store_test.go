package rulestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"kpipolicy/internal/config"
	"kpipolicy/internal/domain"
	"kpipolicy/internal/metrics"
)

func TestMemoryStoreContract(t *testing.T) {
	t.Parallel()

	runRepositoryContract(t, func(t *testing.T) Repository {
		return NewMemoryStore()
	})
}

func TestBoltStoreContract(t *testing.T) {
	t.Parallel()

	runRepositoryContract(t, func(t *testing.T) Repository {
		store, err := NewBoltStore(config.BoltStoreConfig{
			Path:          filepath.Join(t.TempDir(), "nested", "rules.db"),
			OpenTimeoutMS: 500,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := config.BoltStoreConfig{Path: filepath.Join(t.TempDir(), "rules.db")}

	store, err := NewBoltStore(settings)
	require.NoError(t, err)
	require.NoError(t, store.BulkUpsert(ctx, []domain.Rule{testRule("r1", "stock_low"), testRule("r2", "margin")}))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(settings)
	require.NoError(t, err)
	defer reopened.Close()

	rules, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2"}, ruleIDs(rules))
}

func TestBoltStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBoltStore(config.BoltStoreConfig{})
	require.Error(t, err)
}

func TestDecodeSnapshot(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr bool
		wantLen int
	}{
		{name: "missing rules", raw: `{}`, wantErr: true},
		{name: "null rules", raw: `{"version":1,"rules":null}`, wantErr: true},
		{name: "rules object", raw: `{"rules":{}}`, wantErr: true},
		{name: "not json", raw: `rules`, wantErr: true},
		{name: "future version", raw: `{"version":2,"rules":[]}`, wantErr: true},
		{name: "empty rules", raw: `{"version":1,"rules":[]}`, wantLen: 0},
		{name: "version omitted", raw: `{"rules":[{"id":"r1","when":{"kpiId":"k","severity":["warn"]},"action":"sales.notify","params":{},"limits":{}}]}`, wantLen: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			snapshot, err := DecodeSnapshot([]byte(tc.raw))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidSnapshot)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, snapshot.Rules)
			require.Len(t, snapshot.Rules, tc.wantLen)
			require.Equal(t, SnapshotVersion, snapshot.Version)
		})
	}
}

func TestNewSnapshotSortsAndDetaches(t *testing.T) {
	t.Parallel()

	source := []domain.Rule{testRule("b", "x"), testRule("a", "y")}
	snapshot := NewSnapshot(source)
	require.Equal(t, []string{"a", "b"}, ruleIDs(snapshot.Rules))

	snapshot.Rules[0].Limits["maxQty"] = 1
	require.Equal(t, 500.0, source[1].Limits["maxQty"])

	empty := NewSnapshot(nil)
	body, err := empty.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"rules":[]}`, string(body))
}

type failingRepo struct {
	Repository
}

func (failingRepo) List(context.Context) ([]domain.Rule, error) {
	return nil, storageError("list", errors.New("disk gone"))
}

func TestInstrumentedRecordsErrors(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	ok := Instrumented(NewMemoryStore(), m, "memory")
	_, err := ok.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, testutil.ToFloat64(m.StoreErrors("memory", "list")))

	bad := Instrumented(failingRepo{Repository: NewMemoryStore()}, m, "broken")
	_, err = bad.List(context.Background())
	require.ErrorIs(t, err, ErrStorage)
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors("broken", "list")))
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	repo, err := Open(context.Background(), config.StoreConfig{Backend: config.StoreBackendMemory}, nil)
	require.NoError(t, err)
	require.IsType(t, &InstrumentedStore{}, repo)
	require.NoError(t, repo.Close())

	repo, err = Open(context.Background(), config.StoreConfig{
		Backend: config.StoreBackendBolt,
		Bolt:    config.BoltStoreConfig{Path: filepath.Join(t.TempDir(), "rules.db")},
	}, metrics.New())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = Open(context.Background(), config.StoreConfig{Backend: "sqlite"}, nil)
	require.Error(t, err)
}
