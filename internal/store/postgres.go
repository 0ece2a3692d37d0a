package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool of at most
// maxConns connections.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS municipalities (
	layer      TEXT NOT NULL,
	code       BIGINT NOT NULL,
	name       TEXT,
	props      JSONB NOT NULL,
	geom       BYTEA,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (layer, code)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	command    TEXT NOT NULL,
	params     JSONB,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clusters (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	code    BIGINT NOT NULL,
	label   TEXT NOT NULL,
	local_i DOUBLE PRECISION,
	p_sim   DOUBLE PRECISION,
	PRIMARY KEY (run_id, code)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_clusters_label ON clusters(label);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveLayer upserts every feature of the layer keyed by (layer, code).
func (s *PostgresStore) SaveLayer(ctx context.Context, layer *dataset.Layer) (int64, error) {
	encoded, err := encodeFeatures(layer, encodeEWKB)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	rows := make([][]any, len(encoded))
	for i, r := range encoded {
		rows[i] = []any{layer.Name, r.code, r.name, string(r.props), r.geom, now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "municipalities",
		Columns:      []string{"layer", "code", "name", "props", "geom", "updated_at"},
		ConflictKeys: []string{"layer", "code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: save layer")
}

func (s *PostgresStore) CreateRun(ctx context.Context, command string, params any) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, command, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, command, paramsJSON, string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{
		ID:        id,
		Command:   command,
		Params:    paramsJSON,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result any) error {
	resultJSON, err := marshalOptional(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		msg, string(RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, command, params, status, result, error, created_at, updated_at FROM runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r      Run
			status string
			cause  *string
		)
		if err := rows.Scan(&r.ID, &r.Command, &r.Params, &status, &r.Result, &cause, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = RunStatus(status)
		if cause != nil {
			r.Error = *cause
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveClusters writes the cluster labels of a run with the COPY protocol.
func (s *PostgresStore) SaveClusters(ctx context.Context, runID string, clusters []Cluster) (int64, error) {
	rows := make([][]any, len(clusters))
	for i, c := range clusters {
		rows[i] = []any{runID, c.Code, c.Label, finiteOrNil(c.I), finiteOrNil(c.PSim)}
	}
	n, err := db.CopyFrom(ctx, s.pool, "clusters", []string{"run_id", "code", "label", "local_i", "p_sim"}, rows)
	return n, eris.Wrap(err, "postgres: save clusters")
}

func finiteOrNil(v float64) any {
	if nf := nullFloat(v); nf.Valid {
		return v
	}
	return nil
}
