package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS municipalities`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLayer(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"layer", "code", "name", "props", "geom", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_municipalities"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "municipalities" .* ON CONFLICT \("layer", "code"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.SaveLayer(context.Background(), sampleLayer())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "moran", []byte(`{"seed":1}`), "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "moran", map[string]int{"seed": 1})
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", map[string]int{"n": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE runs SET error = \$1, status = \$2`).
		WithArgs("zero variance", "failed", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("zero variance")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	msg := ""

	mock.ExpectQuery(`SELECT id, command, params, status, result, error, created_at, updated_at FROM runs`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "command", "params", "status", "result", "error", "created_at", "updated_at"}).
			AddRow("run-1", "lisa", json.RawMessage(`{"k":8}`), "complete", json.RawMessage(`{"hh":3}`), &msg, now, now))

	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "lisa", runs[0].Command)
	assert.Equal(t, RunStatusComplete, runs[0].Status)
	assert.JSONEq(t, `{"hh":3}`, string(runs[0].Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveClusters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"clusters"}, []string{"run_id", "code", "label", "local_i", "p_sim"}).
		WillReturnResult(1)

	n, err := s.SaveClusters(context.Background(), "run-1", []Cluster{{Code: 5001, Label: "HH", I: 1.5, PSim: 0.002}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncodeEWKBCarriesSRID(t *testing.T) {
	rows, err := encodeFeatures(sampleLayer(), encodeEWKB)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotEmpty(t, rows[0].geom)
	assert.Nil(t, rows[1].geom)
	assert.Equal(t, "Medellín", rows[0].name)
	// little-endian EWKB multipolygon with the SRID flag set
	assert.Equal(t, byte(1), rows[0].geom[0])
	assert.Equal(t, byte(0x20), rows[0].geom[4])
}
