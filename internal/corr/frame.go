package corr

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/rotisserie/eris"
)

// Table is a column-oriented numeric dataset.
type Table interface {
	// Names returns the column names in their natural order.
	Names() []string
	// Float returns the values of one column.
	Float(name string) ([]float64, error)
}

// FromDataFrame adapts a gota DataFrame to Table.
func FromDataFrame(df dataframe.DataFrame) Table {
	return frameTable{df: df}
}

type frameTable struct {
	df dataframe.DataFrame
}

func (f frameTable) Names() []string {
	return f.df.Names()
}

func (f frameTable) Float(name string) ([]float64, error) {
	col := f.df.Col(name)
	if col.Err != nil {
		return nil, eris.Wrapf(col.Err, "corr: column %q", name)
	}
	return col.Float(), nil
}
