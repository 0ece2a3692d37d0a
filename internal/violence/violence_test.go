package violence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dv-atlas/internal/census"
)

const report = "\xEF\xBB\xBFDEPARTAMENTO,MUNICIPIO,CODIGO DANE,FECHA HECHO,CANTIDAD\n" +
	"ANTIOQUIA,MEDELLÍN (CT),05001000,1/01/2020,2\n" +
	"ANTIOQUIA,MEDELLIN,05001000,2/01/2020,1\n" +
	"CUNDINAMARCA,BOGOTÁ D.C. (CT),11001000,1/01/2020,5\n" +
	"ANTIOQUIA,ABEJORRAL,05002000,3/01/2020,1\n" +
	"ANTIOQUIA,MEDELLÍN (CT),05001000,4/01/2020,3\n" +
	"-,-,NO REPORTA,5/01/2020,1\n" +
	"ANTIOQUIA,-,,6/01/2020,1\n" +
	"TOTAL,,,,13\n" +
	"Fuente: SIEDCO\n"

func writeReport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "violence.csv")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	df, err := Load(context.Background(), writeReport(t))
	require.NoError(t, err)

	assert.Equal(t, 5, df.Nrow())
	assert.Contains(t, df.Names(), census.CodeField)

	codes, err := df.Col(census.CodeField).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{5001, 5001, 11001, 5002, 5001}, codes)
	assert.Equal(t, "05001000", df.Col(CodeColumn).Records()[0])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.csv"))
	assert.Error(t, err)
}

func TestLoadNoCodeColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODIGO DANE")
}

func TestByMunicipalityCount(t *testing.T) {
	df, err := Load(context.Background(), writeReport(t))
	require.NoError(t, err)

	agg, err := ByMunicipality(df, Count)
	require.NoError(t, err)

	assert.Equal(t, []string{census.CodeField, CasesColumn, CityColumn}, agg.Names())
	codes, err := agg.Col(census.CodeField).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{5001, 5002, 11001}, codes)
	assert.Equal(t, []float64{3, 1, 1}, agg.Col(CasesColumn).Float())
	assert.Equal(t, []string{"MEDELLÍN (CT)", "ABEJORRAL", "BOGOTÁ D.C. (CT)"}, agg.Col(CityColumn).Records())
}

func TestByMunicipalitySum(t *testing.T) {
	df, err := Load(context.Background(), writeReport(t))
	require.NoError(t, err)

	agg, err := ByMunicipality(df, Sum)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 1, 5}, agg.Col(CasesColumn).Float())
}

func TestByMunicipalityUnknownMode(t *testing.T) {
	df, err := Load(context.Background(), writeReport(t))
	require.NoError(t, err)

	_, err = ByMunicipality(df, Mode("median"))
	assert.Error(t, err)
}

func TestByDepartmentMunicipality(t *testing.T) {
	df, err := Load(context.Background(), writeReport(t))
	require.NoError(t, err)

	out, err := ByDepartmentMunicipality(df)
	require.NoError(t, err)

	assert.Equal(t, []string{DeptColumn, MpioColumn, CasesColumn}, out.Names())
	depts, err := out.Col(DeptColumn).Int()
	require.NoError(t, err)
	mpios, err := out.Col(MpioColumn).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 11}, depts)
	assert.Equal(t, []int{1, 2, 1}, mpios)
	assert.Equal(t, []float64{6, 1, 5}, out.Col(CasesColumn).Float())
}
