package population

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/ingest"
)

// Rate columns, in output order.
const (
	DeptColumn       = "U_DPTO"
	MpioColumn       = "U_MPIO"
	PopulationColumn = "Population"
	RateColumn       = "CasesPer1000Habitants"
)

// WriteCSV writes population rows with a header.
func WriteCSV(path string, rows []Population) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "population: encode rows")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "population: create output dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "population: write %s", path)
	}
	return nil
}

// ReadCSV reads a file written by WriteCSV.
func ReadCSV(path string) ([]Population, error) {
	rc, err := ingest.OpenText(path)
	if err != nil {
		return nil, eris.Wrap(err, "population: read")
	}
	defer rc.Close() //nolint:errcheck

	dec, err := csvutil.NewDecoder(csv.NewReader(rc))
	if err != nil {
		return nil, eris.Wrapf(err, "population: header of %s", path)
	}
	var rows []Population
	if err := dec.Decode(&rows); err != nil {
		return nil, eris.Wrapf(err, "population: decode %s", path)
	}
	return rows, nil
}

// Rates joins per-municipality case counts (U_DPTO, U_MPIO,
// DomesticViolenceCases) with population rows and adds
// CasesPer1000Habitants. Only municipalities present in both are kept, in
// the order of cases.
func Rates(cases dataframe.DataFrame, pop []Population) (dataframe.DataFrame, error) {
	if len(pop) == 0 {
		return dataframe.DataFrame{}, eris.New("population: no population rows")
	}
	popDF := dataframe.LoadStructs(pop).Rename(PopulationColumn, "HA_TOT_PER")
	if popDF.Err != nil {
		return popDF, eris.Wrap(popDF.Err, "population: population frame")
	}

	joined := cases.InnerJoin(popDF, DeptColumn, MpioColumn)
	if joined.Err != nil {
		return joined, eris.Wrap(joined.Err, "population: join cases")
	}

	counts := joined.Col(census.CasesColumn)
	if counts.Err != nil {
		return joined, eris.Wrap(counts.Err, "population: cases column")
	}
	n := counts.Float()
	d := joined.Col(PopulationColumn).Float()
	rate := make([]float64, len(n))
	for i := range n {
		if d[i] == 0 {
			rate[i] = math.NaN()
			continue
		}
		rate[i] = n[i] / d[i] * 1000
	}

	joined = joined.Mutate(series.New(rate, series.Float, RateColumn))
	if joined.Err != nil {
		return joined, eris.Wrap(joined.Err, "population: add rate")
	}
	return joined, nil
}

// WriteRatesCSV writes the Rates frame with a header row.
func WriteRatesCSV(path string, df dataframe.DataFrame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "population: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "population: create %s", path)
	}
	if err := df.WriteCSV(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "population: write %s", path)
	}
	return eris.Wrap(f.Close(), "population: close rates file")
}
