package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/dv-atlas/internal/config"
	"github.com/sells-group/dv-atlas/internal/dataset"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleLayer() *dataset.Layer {
	sq := geom.NewMultiPolygonFlat(geom.XY, []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}, [][]int{{10}})
	return &dataset.Layer{
		Name:    "municipalities",
		Columns: []string{"City", "DVCper1000iH"},
		Features: []dataset.Feature{
			{Code: 5001, Props: map[string]any{"City": "Medellín", "DVCper1000iH": 4.2}, Geom: sq},
			{Code: 5002, Props: map[string]any{"City": "Abejorral", "DVCper1000iH": math.NaN()}},
		},
	}
}

func TestSQLite_SaveLayer(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	layer := sampleLayer()

	n, err := st.SaveLayer(ctx, layer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// re-running replaces rows instead of duplicating them
	layer.Features[0].Props["DVCper1000iH"] = 5.0
	_, err = st.SaveLayer(ctx, layer)
	require.NoError(t, err)

	var count int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM municipalities`).Scan(&count))
	assert.Equal(t, 2, count)

	var (
		name  string
		props string
		blob  []byte
	)
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT name, props, geom FROM municipalities WHERE code = ?`, 5001).Scan(&name, &props, &blob))
	assert.Equal(t, "Medellín", name)
	assert.JSONEq(t, `{"City":"Medellín","DVCper1000iH":5}`, props)

	g, err := wkb.Unmarshal(blob)
	require.NoError(t, err)
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, layer.Features[0].Geom.FlatCoords(), mp.FlatCoords())

	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT props FROM municipalities WHERE code = ?`, 5002).Scan(&props))
	assert.JSONEq(t, `{"City":"Abejorral","DVCper1000iH":null}`, props)
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "moran", map[string]any{"permutations": 999})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, st.CompleteRun(ctx, run.ID, map[string]float64{"i": 0.21}))

	failed, err := st.CreateRun(ctx, "lisa", nil)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed.ID, errors.New("boom")))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	done := byID[run.ID]
	assert.Equal(t, RunStatusComplete, done.Status)
	assert.Equal(t, "moran", done.Command)
	assert.JSONEq(t, `{"permutations":999}`, string(done.Params))
	assert.JSONEq(t, `{"i":0.21}`, string(done.Result))

	bad := byID[failed.ID]
	assert.Equal(t, RunStatusFailed, bad.Status)
	assert.Equal(t, "boom", bad.Error)
	assert.Nil(t, bad.Params)

	one, err := st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLite_CompleteUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.Error(t, st.FailRun(context.Background(), "missing", nil))
}

func TestSQLite_SaveClusters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "lisa", json.RawMessage(`{"k":8}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":8}`, string(run.Params))

	n, err := st.SaveClusters(ctx, run.ID, []Cluster{
		{Code: 5001, Label: "HH", I: 1.2, PSim: 0.01},
		{Code: 5002, Label: "ns", I: math.NaN(), PSim: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var hh int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters WHERE label = 'HH'`).Scan(&hh))
	assert.Equal(t, 1, hh)

	n, err = st.SaveClusters(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	require.NotNil(t, s)
	_, err = s.ListRuns(ctx, 5)
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}
