package population

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/dv-atlas/internal/ingest"
)

// duplicateBogota is listed in the DANE code table next to Bogotá itself.
const duplicateBogota = "Santafe de bogota d.c.- usaquen"

// Code names one municipality of the DANE code table.
type Code struct {
	Key
	Municipio    string
	Departamento string
}

type codeRow struct {
	Dept         int    `csv:"U_DPTO"`
	Mpio         int    `csv:"U_MPIO"`
	Municipio    string `csv:"Municipio"`
	Departamento string `csv:"Departamento"`
}

// LoadCodes reads the municipality code table. XLSX workbooks are read
// positionally (U_DPTO, U_MPIO, Municipio, Departamento) after one header
// row, and rows whose codes are not numeric are skipped. Any other file is
// read as CSV by column name.
func LoadCodes(path string) ([]Code, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return loadCodesXLSX(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "population: read %s", path)
	}
	var rows []codeRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "population: decode %s", path)
	}
	out := make([]Code, len(rows))
	for i, r := range rows {
		out[i] = Code{Key: Key{Dept: r.Dept, Mpio: r.Mpio}, Municipio: r.Municipio, Departamento: r.Departamento}
	}
	return out, nil
}

func loadCodesXLSX(path string) ([]Code, error) {
	rows, err := ingest.ReadXLSX(path, ingest.XLSXOptions{SkipRows: 1, SkipBlank: true})
	if err != nil {
		return nil, eris.Wrap(err, "population: load codes")
	}

	var out []Code
	skipped := 0
	for _, r := range rows {
		if len(r) < 4 {
			skipped++
			continue
		}
		dept, err1 := strconv.Atoi(strings.TrimSpace(r[0]))
		mpio, err2 := strconv.Atoi(strings.TrimSpace(r[1]))
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		out = append(out, Code{Key: Key{Dept: dept, Mpio: mpio}, Municipio: r[2], Departamento: r[3]})
	}
	if skipped > 0 {
		zap.L().Debug("population: skipped code rows", zap.String("path", path), zap.Int("skipped", skipped))
	}
	if len(out) == 0 {
		return nil, eris.Errorf("population: no codes in %s", path)
	}
	return out, nil
}

var (
	upper = cases.Upper(language.Spanish)
	lower = cases.Lower(language.Spanish)
)

// NormalizeName upper-cases the first letter of s and lower-cases the rest,
// then replaces carriage returns left by the PDF table extraction with
// spaces.
func NormalizeName(s string) string {
	if s == "" {
		return s
	}
	_, size := utf8.DecodeRuneInString(s)
	s = upper.String(s[:size]) + lower.String(s[size:])
	return strings.ReplaceAll(s, "\r", " ")
}

// Population is one row of population.csv.
type Population struct {
	Dept         int    `csv:"U_DPTO" dataframe:"U_DPTO"`
	Mpio         int    `csv:"U_MPIO" dataframe:"U_MPIO"`
	Persons      int    `csv:"HA_TOT_PER" dataframe:"HA_TOT_PER"`
	Municipio    string `csv:"Municipio" dataframe:"Municipio"`
	Departamento string `csv:"Departamento" dataframe:"Departamento"`
}

// Join attaches names to population counts. Counts without a code row are
// dropped and a count matching several code rows appears once per row.
// The duplicate Bogotá listing is removed.
func Join(counts []Count, codes []Code) []Population {
	byKey := make(map[Key][]Code, len(codes))
	for _, c := range codes {
		byKey[c.Key] = append(byKey[c.Key], c)
	}

	var out []Population
	for _, c := range counts {
		for _, code := range byKey[c.Key] {
			p := Population{
				Dept:         c.Dept,
				Mpio:         c.Mpio,
				Persons:      int(c.Persons),
				Municipio:    NormalizeName(code.Municipio),
				Departamento: NormalizeName(code.Departamento),
			}
			if p.Municipio == duplicateBogota {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
