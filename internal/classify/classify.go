// Package classify computes class breaks for choropleth maps.
package classify

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Breaks are ascending class upper bounds. Class i holds the values in
// (Breaks[i-1], Breaks[i]]; the last bound is the data maximum.
type Breaks []float64

// finiteSorted drops NaN and Inf and sorts the rest.
func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// FisherJenks returns the k-class natural breaks that minimise the summed
// squared deviation from the class means. Missing values are ignored.
func FisherJenks(values []float64, k int) (Breaks, error) {
	if k < 2 {
		return nil, eris.Errorf("classify: need at least 2 classes, got %d", k)
	}
	x := finiteSorted(values)

	// distinct values with multiplicities
	var u, w []float64
	for i, v := range x {
		if i > 0 && v == x[i-1] {
			w[len(w)-1]++
			continue
		}
		u = append(u, v)
		w = append(w, 1)
	}
	m := len(u)
	if m < k {
		return nil, eris.Errorf("classify: %d distinct values cannot form %d classes", m, k)
	}

	s0 := make([]float64, m+1)
	s1 := make([]float64, m+1)
	s2 := make([]float64, m+1)
	for i := range u {
		s0[i+1] = s0[i] + w[i]
		s1[i+1] = s1[i] + w[i]*u[i]
		s2[i+1] = s2[i] + w[i]*u[i]*u[i]
	}
	// ssd of u[i..j] inclusive
	ssd := func(i, j int) float64 {
		n := s0[j+1] - s0[i]
		sum := s1[j+1] - s1[i]
		return s2[j+1] - s2[i] - sum*sum/n
	}

	cost := make([][]float64, k)
	start := make([][]int, k)
	for c := range cost {
		cost[c] = make([]float64, m)
		start[c] = make([]int, m)
	}
	for j := 0; j < m; j++ {
		cost[0][j] = ssd(0, j)
	}
	for c := 1; c < k; c++ {
		for j := c; j < m; j++ {
			best, at := math.Inf(1), c
			for i := c; i <= j; i++ {
				v := cost[c-1][i-1] + ssd(i, j)
				if v < best {
					best, at = v, i
				}
			}
			cost[c][j], start[c][j] = best, at
		}
	}

	out := make(Breaks, k)
	end := m - 1
	for c := k - 1; c >= 0; c-- {
		out[c] = u[end]
		if c > 0 {
			end = start[c][end] - 1
		}
	}
	return out, nil
}

// Quantiles returns k equal-count breaks using the empirical quantile.
// Repeated bounds from tied data are merged, so fewer than k breaks may be
// returned.
func Quantiles(values []float64, k int) (Breaks, error) {
	if k < 2 {
		return nil, eris.Errorf("classify: need at least 2 classes, got %d", k)
	}
	x := finiteSorted(values)
	if len(x) < 2 {
		return nil, eris.Errorf("classify: %d values cannot form classes", len(x))
	}

	var out Breaks
	for i := 1; i <= k; i++ {
		q := floats.Max(x)
		if i < k {
			q = stat.Quantile(float64(i)/float64(k), stat.Empirical, x, nil)
		}
		if len(out) == 0 || q > out[len(out)-1] {
			out = append(out, q)
		}
	}
	if len(out) < 2 {
		return nil, eris.New("classify: data has a single distinct value")
	}
	return out, nil
}

// Assign returns the class of v, or -1 when v is missing. Values above the
// last bound fall in the last class.
func (b Breaks) Assign(v float64) int {
	if math.IsNaN(v) || len(b) == 0 {
		return -1
	}
	i := sort.SearchFloat64s(b, v)
	if i >= len(b) {
		return len(b) - 1
	}
	return i
}

// Counts returns the number of values in each class.
func (b Breaks) Counts(values []float64) []int {
	out := make([]int, len(b))
	for _, v := range values {
		if c := b.Assign(v); c >= 0 {
			out[c]++
		}
	}
	return out
}
