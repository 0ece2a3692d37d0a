// Package census reads DANE census boundaries and derives the municipal
// indicators used throughout the analysis.
package census

import (
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// MGN attributes used outside Indicators.
const (
	// CodeField holds the 5-digit municipality code.
	CodeField = "MPIO_CDPMP"
	// NameField holds the municipality name.
	NameField = "MPIO_CNMBR"
	// PersonsField holds the census population.
	PersonsField = "STP27_PERS"
)

// Record is one shapefile feature.
type Record struct {
	Attrs map[string]string
	Geom  *geom.MultiPolygon
}

// Boundaries holds the records of a shapefile in file order.
type Boundaries struct {
	Fields  []string
	Records []Record
	// Skipped counts records dropped for a missing or unreadable shape.
	Skipped int
}

// ReadShapefile loads polygons and attributes from shpPath. When fields is
// empty every attribute is kept; otherwise only the named ones, in the
// order given. Field names match case-insensitively.
func ReadShapefile(shpPath string, fields []string) (*Boundaries, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "census: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()
	// go-shp opens the .dbf silently; a missing table leaves no fields.
	if len(reader.Fields()) == 0 {
		return nil, eris.Errorf("census: %s has no attribute table", shpPath)
	}

	idx := make(map[string]int)
	var names []string
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToUpper(name)] = i
		names = append(names, name)
	}
	if len(fields) > 0 {
		for _, f := range fields {
			if _, ok := idx[strings.ToUpper(f)]; !ok {
				return nil, eris.Errorf("census: field %q not in %s", f, shpPath)
			}
		}
		names = fields
	}

	b := &Boundaries{Fields: names}
	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			b.Skipped++
			continue
		}
		mp := toMultiPolygon(poly)
		if mp == nil {
			b.Skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for _, name := range names {
			v := reader.Attribute(idx[strings.ToUpper(name)])
			attrs[name] = strings.TrimSpace(strings.TrimRight(v, "\x00"))
		}
		b.Records = append(b.Records, Record{Attrs: attrs, Geom: mp})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "census: read %s", shpPath)
	}

	if b.Skipped > 0 {
		zap.L().Warn("census: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", b.Skipped),
		)
	}
	zap.L().Info("census: read boundaries",
		zap.String("path", shpPath),
		zap.Int("records", len(b.Records)),
	)

	return b, nil
}

// Frame returns the attributes as a DataFrame with detected column types.
// The code field is forced to an integer column; blank values become NaN.
func (b *Boundaries) Frame() (dataframe.DataFrame, error) {
	records := make([][]string, 0, len(b.Records)+1)
	records = append(records, append([]string(nil), b.Fields...))
	for _, r := range b.Records {
		row := make([]string, len(b.Fields))
		for i, f := range b.Fields {
			v := r.Attrs[f]
			if v == "" {
				v = "NaN"
			}
			row[i] = v
		}
		records = append(records, row)
	}

	types := map[string]series.Type{}
	for _, f := range b.Fields {
		if strings.EqualFold(f, CodeField) {
			types[f] = series.Int
		}
	}

	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(true),
		dataframe.WithTypes(types),
	)
	if df.Err != nil {
		return df, eris.Wrap(df.Err, "census: build frame")
	}
	return df, nil
}

// Geometries indexes the polygons by municipality code.
func (b *Boundaries) Geometries(codeField string) (map[int64]*geom.MultiPolygon, error) {
	out := make(map[int64]*geom.MultiPolygon, len(b.Records))
	for _, r := range b.Records {
		code, err := ParseCode(r.Attrs[codeField])
		if err != nil {
			return nil, eris.Wrapf(err, "census: field %s", codeField)
		}
		if _, dup := out[code]; dup {
			return nil, eris.Errorf("census: duplicate code %s", FormatCode(code))
		}
		out[code] = r.Geom
	}
	return out, nil
}
