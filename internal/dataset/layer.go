// Package dataset holds the municipal indicator layer: one feature per
// municipality with its attributes and boundary.
package dataset

import (
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Feature is one municipality. Props values are float64, string or nil.
type Feature struct {
	Code  int64
	Props map[string]any
	Geom  *geom.MultiPolygon
}

// Layer is an ordered set of features sharing a column list.
type Layer struct {
	Name     string
	Columns  []string
	Features []Feature
}

// Len returns the number of features.
func (l *Layer) Len() int {
	return len(l.Features)
}

// Names returns the numeric columns in column order. A column is numeric
// when it holds at least one value and every value is a float64.
func (l *Layer) Names() []string {
	var out []string
	for _, c := range l.Columns {
		if l.numeric(c) {
			out = append(out, c)
		}
	}
	return out
}

func (l *Layer) numeric(col string) bool {
	seen := false
	for _, f := range l.Features {
		switch f.Props[col].(type) {
		case nil:
		case float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func (l *Layer) hasColumn(col string) bool {
	for _, c := range l.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Float returns a numeric column with NaN for missing values.
func (l *Layer) Float(col string) ([]float64, error) {
	if !l.hasColumn(col) {
		return nil, eris.Errorf("dataset: unknown column %q", col)
	}
	out := make([]float64, len(l.Features))
	for i, f := range l.Features {
		switch v := f.Props[col].(type) {
		case float64:
			out[i] = v
		case nil:
			out[i] = math.NaN()
		default:
			return nil, eris.Errorf("dataset: column %q is not numeric (%T)", col, v)
		}
	}
	return out, nil
}

// Strings returns a column as text; missing values are empty.
func (l *Layer) Strings(col string) ([]string, error) {
	if !l.hasColumn(col) {
		return nil, eris.Errorf("dataset: unknown column %q", col)
	}
	out := make([]string, len(l.Features))
	for i, f := range l.Features {
		switch v := f.Props[col].(type) {
		case string:
			out[i] = v
		case nil:
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// Codes returns the municipality codes in feature order.
func (l *Layer) Codes() []int64 {
	out := make([]int64, len(l.Features))
	for i, f := range l.Features {
		out[i] = f.Code
	}
	return out
}

// Geometries returns the boundaries in feature order.
func (l *Layer) Geometries() []*geom.MultiPolygon {
	out := make([]*geom.MultiPolygon, len(l.Features))
	for i, f := range l.Features {
		out[i] = f.Geom
	}
	return out
}

// Complete returns a layer without the features holding a missing or
// non-finite value in any of cols.
func (l *Layer) Complete(cols ...string) (*Layer, error) {
	values := make([][]float64, len(cols))
	for i, c := range cols {
		v, err := l.Float(c)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	out := &Layer{Name: l.Name, Columns: l.Columns}
	for i, f := range l.Features {
		ok := true
		for _, v := range values {
			if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
				ok = false
				break
			}
		}
		if ok {
			out.Features = append(out.Features, f)
		}
	}
	if dropped := l.Len() - out.Len(); dropped > 0 {
		zap.L().Debug("dataset: dropped incomplete features",
			zap.Strings("columns", cols),
			zap.Int("dropped", dropped),
		)
	}
	return out, nil
}

// FromFrame builds a layer from df, attaching geoms by the integer code in
// codeCol. Rows without a geometry are dropped.
func FromFrame(df dataframe.DataFrame, geoms map[int64]*geom.MultiPolygon, codeCol, name string) (*Layer, error) {
	if df.Err != nil {
		return nil, eris.Wrap(df.Err, "dataset: frame")
	}
	codeSeries := df.Col(codeCol)
	if codeSeries.Err != nil {
		return nil, eris.Wrapf(codeSeries.Err, "dataset: code column %q", codeCol)
	}
	codes, err := codeSeries.Int()
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: code column %q", codeCol)
	}

	names := df.Names()
	cols := make([]func(int) any, len(names))
	for i, n := range names {
		s := df.Col(n)
		switch s.Type() {
		case series.Float, series.Int:
			vals := s.Float()
			cols[i] = func(r int) any {
				if math.IsNaN(vals[r]) {
					return nil
				}
				return vals[r]
			}
		default:
			recs := s.Records()
			cols[i] = func(r int) any {
				if s.Elem(r).IsNA() {
					return nil
				}
				return recs[r]
			}
		}
	}

	l := &Layer{Name: name, Columns: names}
	missing := 0
	for r, code := range codes {
		g, ok := geoms[int64(code)]
		if !ok || g == nil {
			missing++
			continue
		}
		props := make(map[string]any, len(names))
		for i, n := range names {
			props[n] = cols[i](r)
		}
		l.Features = append(l.Features, Feature{Code: int64(code), Props: props, Geom: g})
	}
	if missing > 0 {
		zap.L().Warn("dataset: rows without geometry", zap.Int("dropped", missing))
	}
	return l, nil
}

// Frame converts the attributes back to a DataFrame. Numeric columns
// become Float series and the rest String series.
func (l *Layer) Frame() (dataframe.DataFrame, error) {
	if l.Len() == 0 {
		return dataframe.DataFrame{}, eris.New("dataset: empty layer")
	}
	cols := make([]series.Series, 0, len(l.Columns))
	for _, c := range l.Columns {
		if l.numeric(c) {
			v, err := l.Float(c)
			if err != nil {
				return dataframe.DataFrame{}, err
			}
			cols = append(cols, series.New(v, series.Float, c))
			continue
		}
		v, _ := l.Strings(c)
		cols = append(cols, series.New(v, series.String, c))
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return df, eris.Wrap(df.Err, "dataset: build frame")
	}
	return df, nil
}
