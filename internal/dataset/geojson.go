package dataset

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/census"
)

// collection is a GeoJSON FeatureCollection with the layer name and column
// order as foreign members.
type collection struct {
	Type     string             `json:"type"`
	Name     string             `json:"name"`
	Columns  []string           `json:"columns"`
	Features []*geojson.Feature `json:"features"`
}

// Write stores the layer as GeoJSON at path, replacing any existing file.
// Missing values are written as null.
func (l *Layer) Write(path string) error {
	fc := collection{
		Type:     "FeatureCollection",
		Name:     l.Name,
		Columns:  l.Columns,
		Features: make([]*geojson.Feature, 0, len(l.Features)),
	}
	for _, f := range l.Features {
		props := make(map[string]any, len(l.Columns))
		for _, c := range l.Columns {
			v := f.Props[c]
			if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
				v = nil
			}
			props[c] = v
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         census.FormatCode(f.Code),
			Geometry:   f.Geom,
			Properties: props,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrap(err, "dataset: encode geojson")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "dataset: create output dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.geojson")
	if err != nil {
		return eris.Wrap(err, "dataset: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "dataset: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "dataset: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrapf(err, "dataset: replace %s", path)
	}

	zap.L().Info("dataset: wrote layer",
		zap.String("path", path),
		zap.String("layer", l.Name),
		zap.Int("features", len(l.Features)),
	)
	return nil
}

// Read loads a layer written by Write.
func Read(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	var fc collection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "dataset: decode %s", path)
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("dataset: %s is a %q, not a FeatureCollection", path, fc.Type)
	}

	l := &Layer{Name: fc.Name, Columns: fc.Columns}
	for i, f := range fc.Features {
		code, err := census.ParseCode(f.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: feature %d", i)
		}
		mp, err := asMultiPolygon(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: feature %s", f.ID)
		}
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		l.Features = append(l.Features, Feature{Code: code, Props: props, Geom: mp})
	}
	if l.Columns == nil && len(fc.Features) > 0 {
		return nil, eris.Errorf("dataset: %s has no column list", path)
	}
	return l, nil
}

func asMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t.SetSRID(census.SRID), nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout()).SetSRID(census.SRID)
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "dataset: wrap polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("dataset: unsupported geometry %T", g)
	}
}
