package main

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/config"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/violence"
)

// testConfig loads the defaults from an empty working directory and points
// every path into it. The store is SQLite when withStore is set.
func testConfig(t *testing.T, withStore bool) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	c, err := config.Load()
	require.NoError(t, err)

	c.Paths.Dataset = filepath.Join(dir, "processed", "dataset.geojson")
	c.Paths.ImagesDir = filepath.Join(dir, "images")
	c.Paths.ReportsDir = filepath.Join(dir, "reports")
	c.Paths.TempDir = filepath.Join(dir, "tmp")
	c.Analysis.Permutations = 99
	c.Analysis.KNNK = 4
	c.Analysis.Concurrency = 2
	c.Plot.WidthCM = 12
	c.Plot.HeightCM = 9
	c.Log.Level = "error"
	if withStore {
		c.Store.Driver = "sqlite"
		c.Store.DatabaseURL = filepath.Join(dir, "atlas.db")
	}
	require.NoError(t, config.InitLogger(c.Log))

	cfg = c
	return dir
}

// cell is a 0.5 degree square; neighbouring cells share exact vertices.
func cell(i, j int) *geom.MultiPolygon {
	x := -75 + float64(i)*0.5
	y := 4 + float64(j)*0.5
	return geom.NewMultiPolygonFlat(geom.XY,
		[]float64{x, y, x, y + 0.5, x + 0.5, y + 0.5, x + 0.5, y, x, y},
		[][]int{{10}},
	).SetSRID(census.SRID)
}

// gridLayer is a 6x6 grid of municipalities whose rate grows towards the
// north-east, so neighbours hold similar values.
func gridLayer() *dataset.Layer {
	l := &dataset.Layer{
		Name: "municipalities",
		Columns: []string{
			census.CodeField, violence.CityColumn, census.PersonsField, census.CasesColumn,
			census.PercentAdultinPrimary, census.PercentLSL, census.PercentHWES,
			census.PercentHWWS, census.WomenperMen, census.RateColumn,
		},
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			code := int64(5001 + 10*i + j)
			persons := float64(1000 + 250*i + 40*j)
			rate := 1 + float64(i+j) + 0.1*float64((7*i+3*j)%5)
			l.Features = append(l.Features, dataset.Feature{
				Code: code,
				Props: map[string]any{
					census.CodeField:             float64(code),
					violence.CityColumn:          fmt.Sprintf("City %d-%d", i, j),
					census.PersonsField:          persons,
					census.CasesColumn:           rate * persons / 1000,
					census.PercentAdultinPrimary: float64(10 + 2*i + j%3),
					census.PercentLSL:            float64(50 - 3*j + 2*(i%2)),
					census.PercentHWES:           float64((i*j)%7 + 1),
					census.PercentHWWS:           0.5*float64(i) + float64((5*j)%6),
					census.WomenperMen:           0.9 + 0.01*float64((i+2*j)%9),
					census.RateColumn:            rate,
				},
				Geom: cell(i, j),
			})
		}
	}
	return l
}

// writeGrid stores gridLayer at the configured dataset path.
func writeGrid(t *testing.T) *dataset.Layer {
	t.Helper()
	l := gridLayer()
	require.NoError(t, l.Write(cfg.Paths.Dataset))
	return l
}
