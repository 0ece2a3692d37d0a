// Package store persists the indicator layer and analysis runs in SQLite or
// Postgres.
package store

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/config"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/violence"
)

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one invocation of an analysis command.
type Run struct {
	ID        string          `json:"id"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    RunStatus       `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Cluster is the local Moran's I outcome for one municipality.
type Cluster struct {
	Code  int64
	Label string
	I     float64
	PSim  float64
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Layers
	SaveLayer(ctx context.Context, layer *dataset.Layer) (int64, error)

	// Runs
	CreateRun(ctx context.Context, command string, params any) (*Run, error)
	CompleteRun(ctx context.Context, runID string, result any) error
	FailRun(ctx context.Context, runID string, cause error) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	SaveClusters(ctx context.Context, runID string, clusters []Cluster) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver. The "none" driver yields a
// nil Store and no error.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// featureRow holds the encoded columns of one municipality.
type featureRow struct {
	code  int64
	name  string
	props []byte
	geom  []byte
}

// geometryEncoder serialises a boundary for one backend.
type geometryEncoder func(g *geom.MultiPolygon) ([]byte, error)

// encodeWKB is the SQLite encoding.
func encodeWKB(g *geom.MultiPolygon) ([]byte, error) {
	return wkb.Marshal(g, wkb.NDR)
}

// encodeEWKB is the Postgres encoding, carrying the SRID for PostGIS.
func encodeEWKB(g *geom.MultiPolygon) ([]byte, error) {
	flat := geom.NewMultiPolygonFlat(g.Layout(), g.FlatCoords(), g.Endss()).SetSRID(census.SRID)
	return ewkb.Marshal(flat, ewkb.NDR)
}

// encodeFeatures turns layer features into JSON attributes and binary
// geometry. Non-finite numbers become null.
func encodeFeatures(layer *dataset.Layer, encode geometryEncoder) ([]featureRow, error) {
	rows := make([]featureRow, 0, layer.Len())
	for _, f := range layer.Features {
		props := make(map[string]any, len(f.Props))
		for k, v := range f.Props {
			if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
				v = nil
			}
			props[k] = v
		}
		propsJSON, err := json.Marshal(props)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal props of %d", f.Code)
		}

		var shape []byte
		if f.Geom != nil {
			if shape, err = encode(f.Geom); err != nil {
				return nil, eris.Wrapf(err, "store: encode geometry of %d", f.Code)
			}
		}

		name, _ := f.Props[violence.CityColumn].(string)
		rows = append(rows, featureRow{code: f.Code, name: name, props: propsJSON, geom: shape})
	}
	return rows, nil
}

func marshalOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
