package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/population"
	"github.com/sells-group/dv-atlas/internal/store"
)

const policeReport = "DEPARTAMENTO,MUNICIPIO,CODIGO DANE,FECHA HECHO,CANTIDAD\n" +
	"ANTIOQUIA,MEDELLÍN (CT),05001000,1/01/2020,1\n" +
	"ANTIOQUIA,MEDELLÍN (CT),05001000,2/01/2020,2\n" +
	"ANTIOQUIA,MEDELLÍN (CT),05001000,3/01/2020,1\n" +
	"ANTIOQUIA,ABEJORRAL,05002000,1/01/2020,1\n" +
	"CUNDINAMARCA,BOGOTÁ D.C. (CT),11001000,1/01/2020,4\n" +
	"-,-,NO REPORTA,5/01/2020,1\n" +
	"Fuente: SIEDCO\n"

// writeCensus writes four adjacent municipalities with every attribute the
// indicators read. 05004 has no police reports.
func writeCensus(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "MGN_ANM_MPIOS.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	numeric := []string{
		census.PersonsField, "STVIVIENDA", "STP32_1_SE", "STP32_2_SE",
		"STP51_13_E", "STP51_PRIM", "STP19_EE_1", "STP19_ES_2", "STP19_ACU2",
	}
	for k := 1; k <= 9; k++ {
		numeric = append(numeric, fmt.Sprintf("STP34_%d_ED", k))
	}
	fields := []shp.Field{shp.StringField(census.CodeField, 5), shp.StringField(census.NameField, 20)}
	for _, f := range numeric {
		fields = append(fields, shp.NumberField(f, 10))
	}
	require.NoError(t, w.SetFields(fields))

	munis := []struct {
		code, name string
		persons    int
	}{
		{"05001", "MEDELLIN", 2000},
		{"05002", "ABEJORRAL", 500},
		{"11001", "BOGOTA", 8000},
		{"05004", "ABRIAQUI", 300},
	}
	for i, m := range munis {
		x := float64(i)
		ring := []shp.Point{{X: x, Y: 0}, {X: x, Y: 1}, {X: x + 1, Y: 1}, {X: x + 1, Y: 0}, {X: x, Y: 0}}
		poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
		row := int(w.Write(&poly))

		require.NoError(t, w.WriteAttribute(row, 0, m.code))
		require.NoError(t, w.WriteAttribute(row, 1, m.name))
		values := []int{
			m.persons, m.persons / 4, m.persons / 2, m.persons / 2,
			m.persons / 10, m.persons / 5, m.persons / 8, m.persons / 20, m.persons / 16,
		}
		for k := 0; k < 9; k++ {
			values = append(values, m.persons/10)
		}
		for f, v := range values {
			require.NoError(t, w.WriteAttribute(row, f+2, v))
		}
	}
	w.Close()
	// go-shp v0.1.1 names the table <base>dbf
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	return path
}

func TestRunMakeData(t *testing.T) {
	dir := testConfig(t, true)
	cfg.Paths.CensusShapefile = writeCensus(t, dir)
	cfg.Paths.ViolenceCSV = filepath.Join(dir, "violence.csv")
	require.NoError(t, os.WriteFile(cfg.Paths.ViolenceCSV, []byte(policeReport), 0o644))

	require.NoError(t, runMakeData(context.Background()))

	layer, err := dataset.Read(cfg.Paths.Dataset)
	require.NoError(t, err)
	require.Equal(t, 4, layer.Len())
	assert.Equal(t, []int64{5001, 5002, 11001, 5004}, layer.Codes())

	rate, err := layer.Float(census.RateColumn)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, rate[0], 1e-9)
	assert.InDelta(t, 2.0, rate[1], 1e-9)
	assert.InDelta(t, 0.125, rate[2], 1e-9)
	assert.True(t, math.IsNaN(rate[3]), "municipality without reports")

	cities, err := layer.Strings("City")
	require.NoError(t, err)
	assert.Equal(t, "MEDELLÍN (CT)", cities[0])
	assert.Empty(t, cities[3])

	ratio, err := layer.Float(census.WomenperMen)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ratio[0], 1e-9)

	runs := listRuns(t)
	require.Len(t, runs, 1)
	assert.Equal(t, "make-data", runs[0].Command)
	assert.Equal(t, store.RunStatusComplete, runs[0].Status)
	assert.JSONEq(t, `{"municipalities": 4}`, string(runs[0].Result))

	// re-running replaces the layer
	require.NoError(t, runMakeData(context.Background()))
	again, err := dataset.Read(cfg.Paths.Dataset)
	require.NoError(t, err)
	assert.Equal(t, 4, again.Len())
}

func TestRunMakeDataMissingCensus(t *testing.T) {
	dir := testConfig(t, false)
	cfg.Paths.CensusShapefile = filepath.Join(dir, "missing.shp")

	err := runMakeData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "make-data")
}

func TestRunPopulationAndRates(t *testing.T) {
	dir := testConfig(t, false)

	censusDir := filepath.Join(dir, "census")
	require.NoError(t, os.MkdirAll(censusDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(censusDir, "CNPV2018_2HOG_A2_05.CSV"),
		[]byte("TIPO_REG,U_DPTO,U_MPIO,HA_TOT_PER\n2,05,001,1500\n2,05,001,500\n2,05,002,500\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(censusDir, "CNPV2018_2HOG_A2_11.CSV"),
		[]byte("TIPO_REG,U_DPTO,U_MPIO,HA_TOT_PER\n2,11,001,8000\n"), 0o644))
	codes := filepath.Join(dir, "codes.csv")
	require.NoError(t, os.WriteFile(codes,
		[]byte("U_DPTO,U_MPIO,Municipio,Departamento\n5,1,MEDELLÍN,ANTIOQUIA\n5,2,ABEJORRAL,ANTIOQUIA\n11,1,BOGOTÁ,BOGOTÁ\n"), 0o644))

	cfg.Paths.PopulationDir = censusDir
	cfg.Paths.MunicipalityCodes = codes
	cfg.Paths.PopulationCSV = filepath.Join(dir, "processed", "population.csv")
	cfg.Paths.ViolenceRatesCSV = filepath.Join(dir, "processed", "violence_rates.csv")
	cfg.Paths.ViolenceCSV = filepath.Join(dir, "violence.csv")
	require.NoError(t, os.WriteFile(cfg.Paths.ViolenceCSV, []byte(policeReport), 0o644))

	require.NoError(t, runPopulation(context.Background()))
	pop, err := population.ReadCSV(cfg.Paths.PopulationCSV)
	require.NoError(t, err)
	require.Len(t, pop, 3)
	assert.Equal(t, population.Population{Dept: 5, Mpio: 1, Persons: 2000, Municipio: "Medellín", Departamento: "Antioquia"}, pop[0])

	require.NoError(t, runViolenceRates(context.Background()))
	f, err := os.Open(cfg.Paths.ViolenceRatesCSV)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rates := dataframe.ReadCSV(f)
	require.NoError(t, rates.Err)
	require.Equal(t, 3, rates.Nrow())
	// CANTIDAD is summed: Medellín has 4 cases for 2000 people
	assert.InDeltaSlice(t, []float64{2, 2, 0.5}, rates.Col(population.RateColumn).Float(), 1e-9)
}
