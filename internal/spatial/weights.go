// Package spatial builds spatial weights and computes global and local
// Moran's I statistics.
package spatial

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Weights is a sparse spatial weights matrix. Neighbors[i] lists the
// neighbours of observation i in ascending order and Values[i] the matching
// weights.
type Weights struct {
	Neighbors [][]int
	Values    [][]float64
	// Transform is "B" for binary weights and "R" once row-standardised.
	Transform string
}

// N returns the number of observations.
func (w *Weights) N() int {
	return len(w.Neighbors)
}

// Cardinalities returns the neighbour count of every observation.
func (w *Weights) Cardinalities() []int {
	out := make([]int, len(w.Neighbors))
	for i, nb := range w.Neighbors {
		out[i] = len(nb)
	}
	return out
}

// Islands returns the observations without neighbours.
func (w *Weights) Islands() []int {
	var out []int
	for i, nb := range w.Neighbors {
		if len(nb) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// RowStandardize scales every row to sum to one. Islands keep an empty row.
func (w *Weights) RowStandardize() {
	for i, vals := range w.Values {
		var sum float64
		for _, v := range vals {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j := range vals {
			vals[j] /= sum
		}
		w.Values[i] = vals
	}
	w.Transform = "R"
}

// Lag returns the spatial lag W·y.
func (w *Weights) Lag(y []float64) ([]float64, error) {
	if len(y) != w.N() {
		return nil, eris.Errorf("spatial: lag of %d values with %d observations", len(y), w.N())
	}
	out := make([]float64, len(y))
	for i, nb := range w.Neighbors {
		var s float64
		for k, j := range nb {
			s += w.Values[i][k] * y[j]
		}
		out[i] = s
	}
	return out, nil
}

// moments returns s0, s1 and s2 as used by the Moran variance under
// normality.
func (w *Weights) moments() (s0, s1, s2 float64) {
	n := w.N()
	rowSum := make([]float64, n)
	colSum := make([]float64, n)
	type pair struct{ i, j int }
	cell := make(map[pair]float64)
	for i, nb := range w.Neighbors {
		for k, j := range nb {
			v := w.Values[i][k]
			s0 += v
			rowSum[i] += v
			colSum[j] += v
			cell[pair{i, j}] = v
		}
	}
	for p, v := range cell {
		t := v + cell[pair{p.j, p.i}]
		s1 += t * t
	}
	// pairs present only as (j, i)
	for p, v := range cell {
		if _, ok := cell[pair{p.j, p.i}]; !ok {
			s1 += v * v
		}
	}
	s1 /= 2
	for i := 0; i < n; i++ {
		t := rowSum[i] + colSum[i]
		s2 += t * t
	}
	return s0, s1, s2
}

func newWeights(sets []map[int]bool) *Weights {
	w := &Weights{
		Neighbors: make([][]int, len(sets)),
		Values:    make([][]float64, len(sets)),
		Transform: "B",
	}
	for i, set := range sets {
		nb := make([]int, 0, len(set))
		for j := range set {
			nb = append(nb, j)
		}
		sort.Ints(nb)
		vals := make([]float64, len(nb))
		for k := range vals {
			vals[k] = 1
		}
		w.Neighbors[i], w.Values[i] = nb, vals
	}
	return w
}

// Queen returns contiguity weights where two polygons are neighbours when
// they share at least one vertex. Vertices are compared exactly.
func Queen(geoms []*geom.MultiPolygon) *Weights {
	type vertex [2]float64
	owners := make(map[vertex][]int)
	for i, g := range geoms {
		if g == nil {
			continue
		}
		seen := make(map[vertex]bool)
		flat := g.FlatCoords()
		stride := g.Stride()
		for k := 0; k+1 < len(flat); k += stride {
			v := vertex{flat[k], flat[k+1]}
			if seen[v] {
				continue
			}
			seen[v] = true
			owners[v] = append(owners[v], i)
		}
	}

	sets := make([]map[int]bool, len(geoms))
	for i := range sets {
		sets[i] = make(map[int]bool)
	}
	for _, ids := range owners {
		for _, a := range ids {
			for _, b := range ids {
				if a != b {
					sets[a][b] = true
				}
			}
		}
	}
	return newWeights(sets)
}

// Metric is a distance between two XY coordinates.
type Metric func(a, b geom.Coord) float64

const earthRadiusKM = 6371.0088

// Haversine is the great-circle distance in kilometres between two
// longitude/latitude coordinates in degrees.
func Haversine(a, b geom.Coord) float64 {
	lat1, lat2 := a[1]*math.Pi/180, b[1]*math.Pi/180
	dlat := lat2 - lat1
	dlon := (b[0] - a[0]) * math.Pi / 180
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Euclidean is the planar distance between two coordinates.
func Euclidean(a, b geom.Coord) float64 {
	return math.Hypot(b[0]-a[0], b[1]-a[1])
}

// MetricByName returns Haversine for "haversine" and Euclidean for
// "euclidean".
func MetricByName(name string) (Metric, error) {
	switch name {
	case "haversine":
		return Haversine, nil
	case "euclidean":
		return Euclidean, nil
	}
	return nil, eris.Errorf("spatial: unknown distance metric %q", name)
}

// KNN returns weights linking every point to its k nearest other points.
// Equal distances are broken by the lower index.
func KNN(points []geom.Coord, k int, metric Metric) (*Weights, error) {
	n := len(points)
	if k < 1 || k >= n {
		return nil, eris.Errorf("spatial: k=%d must be in [1, %d)", k, n)
	}
	if metric == nil {
		metric = Euclidean
	}

	type cand struct {
		j int
		d float64
	}
	sets := make([]map[int]bool, n)
	cands := make([]cand, 0, n-1)
	for i := range points {
		cands = cands[:0]
		for j := range points {
			if j != i {
				cands = append(cands, cand{j, metric(points[i], points[j])})
			}
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
		sets[i] = make(map[int]bool, k)
		for _, c := range cands[:k] {
			sets[i][c.j] = true
		}
	}
	return newWeights(sets), nil
}

// Centroids returns the area centroid of every geometry.
func Centroids(geoms []*geom.MultiPolygon) ([]geom.Coord, error) {
	out := make([]geom.Coord, len(geoms))
	for i, g := range geoms {
		if g == nil || g.NumPolygons() == 0 {
			return nil, eris.Errorf("spatial: geometry %d is empty", i)
		}
		c := xy.MultiPolygonCentroid(g)
		if len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil, eris.Errorf("spatial: geometry %d has no centroid", i)
		}
		out[i] = c
	}
	return out, nil
}
