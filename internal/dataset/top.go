package dataset

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rotisserie/eris"
)

// TopN returns up to n features with the largest finite values in col,
// largest first. Ties keep feature order.
func (l *Layer) TopN(col string, n int) ([]Feature, error) {
	vals, err := l.Float(col)
	if err != nil {
		return nil, err
	}

	var idx []int
	var keep []float64
	for i, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			idx = append(idx, i)
			keep = append(keep, v)
		}
	}
	if len(idx) == 0 || n <= 0 {
		return nil, nil
	}

	df := dataframe.New(
		series.New(idx, series.Int, "row"),
		series.New(keep, series.Float, col),
	).Arrange(dataframe.RevSort(col))
	if df.Err != nil {
		return nil, eris.Wrapf(df.Err, "dataset: sort by %s", col)
	}

	rows, err := df.Col("row").Int()
	if err != nil {
		return nil, eris.Wrap(err, "dataset: sorted rows")
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]Feature, n)
	for i := 0; i < n; i++ {
		out[i] = l.Features[rows[i]]
	}
	return out, nil
}
