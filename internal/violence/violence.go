// Package violence loads the National Police domestic violence report and
// aggregates cases per municipality.
package violence

import (
	"context"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/ingest"
)

// Report columns.
const (
	CodeColumn         = "CODIGO DANE"
	MunicipalityColumn = "MUNICIPIO"
	QuantityColumn     = "CANTIDAD"
)

// Output columns.
const (
	CasesColumn = census.CasesColumn
	CityColumn  = "City"
	DeptColumn  = "U_DPTO"
	MpioColumn  = "U_MPIO"
)

// Mode selects how report rows become case counts.
type Mode string

const (
	// Count counts report rows per municipality.
	Count Mode = "count"
	// Sum adds the CANTIDAD column per municipality.
	Sum Mode = "sum"
)

// Load reads the police report at path. Rows whose field count differs from
// the header (the trailing source notes) are dropped, and so are rows
// without a usable CODIGO DANE. The code column stays a string; a
// MPIO_CDPMP integer column holding the municipality code is appended.
func Load(ctx context.Context, path string) (dataframe.DataFrame, error) {
	rc, err := ingest.OpenText(path)
	if err != nil {
		return dataframe.DataFrame{}, eris.Wrap(err, "violence: load")
	}
	defer rc.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rows, errs := ingest.StreamCSV(ctx, rc, ingest.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var header []string
	records := [][]string{}
	short := 0
	for row := range rows {
		if header == nil {
			header = <-headerCh
			records = append(records, header)
		}
		if len(row) != len(header) {
			short++
			continue
		}
		records = append(records, row)
	}
	if err := <-errs; err != nil {
		return dataframe.DataFrame{}, eris.Wrapf(err, "violence: read %s", path)
	}
	if header == nil {
		return dataframe.DataFrame{}, eris.Errorf("violence: %s has no data rows", path)
	}

	df := dataframe.LoadRecords(records,
		dataframe.WithTypes(map[string]series.Type{
			CodeColumn:         series.String,
			MunicipalityColumn: series.String,
		}),
	)
	if df.Err != nil {
		return df, eris.Wrap(df.Err, "violence: parse report")
	}
	if df.Col(CodeColumn).Err != nil {
		return df, eris.Errorf("violence: %s has no %q column", path, CodeColumn)
	}

	before := df.Nrow()
	df = df.Filter(dataframe.F{
		Colname:    CodeColumn,
		Comparator: series.Neq,
		Comparando: census.NoReport,
	}).Filter(dataframe.F{
		Colname:    CodeColumn,
		Comparator: series.CompFunc,
		Comparando: func(el series.Element) bool {
			_, err := census.FromDANEReport(el.String())
			return err == nil
		},
	})
	if df.Err != nil {
		return df, eris.Wrap(df.Err, "violence: filter codes")
	}

	raw := df.Col(CodeColumn).Records()
	codes := make([]int, len(raw))
	for i, s := range raw {
		c, _ := census.FromDANEReport(s)
		codes[i] = int(c)
	}
	df = df.Mutate(series.New(codes, series.Int, census.CodeField))
	if df.Err != nil {
		return df, eris.Wrap(df.Err, "violence: add municipality code")
	}

	zap.L().Info("violence: loaded report",
		zap.String("path", path),
		zap.Int("rows", df.Nrow()),
		zap.Int("dropped_codes", before-df.Nrow()),
		zap.Int("dropped_short", short),
	)
	return df, nil
}

// ByMunicipality returns one row per municipality code, sorted by code,
// with MPIO_CDPMP, DomesticViolenceCases and City. City is the first
// MUNICIPIO reported for the code.
func ByMunicipality(df dataframe.DataFrame, mode Mode) (dataframe.DataFrame, error) {
	if df.Nrow() == 0 {
		return df, eris.New("violence: no report rows to aggregate")
	}

	var agg dataframe.AggregationType
	var col string
	switch mode {
	case Count, "":
		agg, col = dataframe.Aggregation_COUNT, census.CodeField
	case Sum:
		agg, col = dataframe.Aggregation_SUM, QuantityColumn
	default:
		return df, eris.Errorf("violence: unknown mode %q", mode)
	}

	groups := df.GroupBy(census.CodeField)
	if groups.Err != nil {
		return df, eris.Wrap(groups.Err, "violence: group by municipality")
	}
	out := groups.Aggregation([]dataframe.AggregationType{agg}, []string{col})
	if out.Err != nil {
		return out, eris.Wrap(out.Err, "violence: aggregate cases")
	}
	out = out.Rename(CasesColumn, col+"_"+agg.String()).Arrange(dataframe.Sort(census.CodeField))
	if out.Err != nil {
		return out, eris.Wrap(out.Err, "violence: sort municipalities")
	}

	cities := firstCity(groups)
	codes, err := out.Col(census.CodeField).Int()
	if err != nil {
		return out, eris.Wrap(err, "violence: municipality codes")
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = cities[c]
	}

	out = out.Select([]string{census.CodeField, CasesColumn}).
		Mutate(series.New(names, series.String, CityColumn))
	if out.Err != nil {
		return out, eris.Wrap(out.Err, "violence: add city names")
	}
	return out, nil
}

func firstCity(groups *dataframe.Groups) map[int]string {
	cities := make(map[int]string)
	for _, g := range groups.GetGroups() {
		codes, err := g.Col(census.CodeField).Int()
		if err != nil || len(codes) == 0 {
			continue
		}
		if names := g.Col(MunicipalityColumn); names.Err == nil && names.Len() > 0 {
			cities[codes[0]] = names.Records()[0]
		}
	}
	return cities
}

// ByDepartmentMunicipality sums CANTIDAD per (U_DPTO, U_MPIO), sorted by
// department then municipality.
func ByDepartmentMunicipality(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	byCode, err := ByMunicipality(df, Sum)
	if err != nil {
		return byCode, err
	}

	codes, err := byCode.Col(census.CodeField).Int()
	if err != nil {
		return byCode, eris.Wrap(err, "violence: municipality codes")
	}
	depts := make([]int, len(codes))
	mpios := make([]int, len(codes))
	for i, c := range codes {
		depts[i], mpios[i] = census.SplitCode(int64(c))
	}

	out := dataframe.New(
		series.New(depts, series.Int, DeptColumn),
		series.New(mpios, series.Int, MpioColumn),
		byCode.Col(CasesColumn),
	)
	if out.Err != nil {
		return out, eris.Wrap(out.Err, "violence: split codes")
	}
	return out, nil
}
