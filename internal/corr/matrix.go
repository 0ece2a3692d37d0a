// Package corr builds Pearson correlation matrices with significance and
// half-matrix masking for display.
package corr

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultThreshold is the significance level used when Options leaves it unset.
const DefaultThreshold = 0.05

// Options selects the variables of a matrix and how its cells are masked.
type Options struct {
	// Variables in display order. Empty means every column of the table.
	Variables []string

	// Half keeps only the triangle on and above the anti-diagonal of the
	// reversed-row layout, which contains the main diagonal once rendered.
	Half bool

	// HideInsignificant blanks cells whose two-sided p-value exceeds
	// SignificantThreshold.
	HideInsignificant    bool
	SignificantThreshold float64
}

// Matrix is a square correlation table. Rows hold the variables in reverse
// order and Cols in the original order, so a renderer that draws row 0 at the
// bottom shows the diagonal from top-left to bottom-right.
//
// Masked cells hold NaN in Values. PValues is never masked.
type Matrix struct {
	Rows    []string
	Cols    []string
	Values  [][]float64
	PValues [][]float64
}

// Len returns the number of variables.
func (m *Matrix) Len() int {
	return len(m.Cols)
}

// Masked reports whether the cell at row r, column c holds no value.
func (m *Matrix) Masked(r, c int) bool {
	return math.IsNaN(m.Values[r][c])
}

// At returns the correlation for the named row and column variables. The
// boolean is false when either name is unknown or the cell is masked.
func (m *Matrix) At(row, col string) (float64, bool) {
	r, c := indexOf(m.Rows, row), indexOf(m.Cols, col)
	if r < 0 || c < 0 || m.Masked(r, c) {
		return math.NaN(), false
	}
	return m.Values[r][c], true
}

// PValue returns the two-sided p-value for the named pair, or NaN when a
// name is unknown.
func (m *Matrix) PValue(row, col string) float64 {
	r, c := indexOf(m.Rows, row), indexOf(m.Cols, col)
	if r < 0 || c < 0 {
		return math.NaN()
	}
	return m.PValues[r][c]
}

// Build computes the Pearson correlation and its p-value for every pair of
// variables in t. Either the whole matrix is returned or an error naming the
// offending variable or pair; there are no partial results.
func Build(t Table, opts Options) (*Matrix, error) {
	vars := opts.Variables
	if len(vars) == 0 {
		vars = t.Names()
	}
	if len(vars) == 0 {
		return nil, eris.Wrap(&ConfigurationError{Reason: "no variables"}, "corr: build")
	}

	threshold := opts.SignificantThreshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if !(threshold > 0 && threshold < 1) {
		return nil, eris.Wrap(&ConfigurationError{Reason: "significance threshold must be in (0, 1)"}, "corr: build")
	}

	known := make(map[string]bool, len(t.Names()))
	for _, name := range t.Names() {
		known[name] = true
	}

	cols := make([][]float64, len(vars))
	for i, v := range vars {
		if !known[v] {
			return nil, eris.Wrap(&ConfigurationError{Reason: "unknown variable", Variable: v}, "corr: build")
		}
		vals, err := t.Float(v)
		if err != nil {
			return nil, eris.Wrapf(err, "corr: load %q", v)
		}
		cols[i] = vals
	}

	n := len(vars)
	r := square(n)
	p := square(n)
	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			c, pv, err := pearson(vars[i], cols[i], vars[k], cols[k], i == k)
			if err != nil {
				return nil, eris.Wrap(err, "corr: build")
			}
			r[i][k], r[k][i] = c, c
			p[i][k], p[k][i] = pv, pv
		}
	}

	m := &Matrix{
		Rows:    reversed(vars),
		Cols:    append([]string(nil), vars...),
		Values:  square(n),
		PValues: square(n),
	}
	for j := 0; j < n; j++ {
		src := n - 1 - j
		for i := 0; i < n; i++ {
			v := r[src][i]
			m.PValues[j][i] = p[src][i]

			if opts.Half && j+i > n-1 {
				v = math.NaN()
			}
			if opts.HideInsignificant && p[src][i] > threshold {
				v = math.NaN()
			}
			m.Values[j][i] = v
		}
	}

	return m, nil
}

// pearson returns r and its two-sided p-value under the t approximation.
func pearson(a string, x []float64, b string, y []float64, same bool) (float64, float64, error) {
	if len(x) != len(y) {
		return 0, 0, &ComputationError{A: a, B: b, Reason: "columns differ in length"}
	}
	if len(x) < 2 {
		return 0, 0, &ComputationError{A: a, B: b, Reason: "at least 2 observations required"}
	}
	for _, col := range []struct {
		name string
		vals []float64
	}{{a, x}, {b, y}} {
		for _, v := range col.vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, &ComputationError{A: a, B: b, Reason: "non-finite value in " + col.name}
			}
		}
		if floats.Max(col.vals) == floats.Min(col.vals) {
			return 0, 0, &ComputationError{A: a, B: b, Reason: "zero variance in " + col.name}
		}
	}

	if same {
		return 1, 0, nil
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, 0, &ComputationError{A: a, B: b, Reason: "correlation is undefined"}
	}
	r = math.Max(-1, math.Min(1, r))

	n := float64(len(x))
	if n == 2 {
		return r, 1, nil
	}
	if math.Abs(r) == 1 {
		return r, 0, nil
	}

	dof := n - 2
	tstat := r * math.Sqrt(dof/((1-r)*(1+r)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
	pv := 2 * dist.Survival(math.Abs(tstat))
	return r, math.Min(1, pv), nil
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
