package spatial

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GlobalMoran holds Moran's I for one variable with inference under the
// normality assumption and under random permutation.
type GlobalMoran struct {
	N  int
	I  float64
	EI float64

	VINorm  float64
	SeINorm float64
	ZNorm   float64
	PNorm   float64

	Permutations int
	Sim          []float64
	PSim         float64
	EISim        float64
	SeISim       float64
	ZSim         float64
	PZSim        float64

	// Lag is the spatial lag of the input values.
	Lag []float64
}

// Moran computes global Moran's I of y under weights w. When perms is
// positive the statistic is also compared against perms random permutations
// of y drawn from a generator seeded with seed.
func Moran(y []float64, w *Weights, perms int, seed uint64) (*GlobalMoran, error) {
	z, err := deviations(y, w)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: moran")
	}

	n := float64(len(y))
	s0, s1, s2 := w.moments()
	if s0 == 0 {
		return nil, eris.New("spatial: moran: weights have no links")
	}
	zz := floats.Dot(z, z)

	statistic := func(v []float64) float64 {
		lag, _ := w.Lag(v)
		return n / s0 * floats.Dot(v, lag) / zz
	}

	m := &GlobalMoran{
		N:            len(y),
		I:            statistic(z),
		EI:           -1 / (n - 1),
		Permutations: perms,
		PSim:         math.NaN(),
		EISim:        math.NaN(),
		SeISim:       math.NaN(),
		ZSim:         math.NaN(),
		PZSim:        math.NaN(),
	}
	m.Lag, _ = w.Lag(y)

	vNum := n*n*s1 - n*s2 + 3*s0*s0
	vDen := (n - 1) * (n + 1) * s0 * s0
	m.VINorm = vNum/vDen - m.EI*m.EI
	m.SeINorm = math.Sqrt(m.VINorm)
	m.ZNorm = (m.I - m.EI) / m.SeINorm
	m.PNorm = 2 * distuv.UnitNormal.Survival(math.Abs(m.ZNorm))

	if perms <= 0 {
		return m, nil
	}

	rng := newRand(seed)
	shuffled := append([]float64(nil), z...)
	m.Sim = make([]float64, perms)
	for k := range m.Sim {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		m.Sim[k] = statistic(shuffled)
	}

	m.PSim = foldedP(m.Sim, m.I)
	m.EISim = stat.Mean(m.Sim, nil)
	m.SeISim = stat.PopStdDev(m.Sim, nil)
	m.ZSim = (m.I - m.EISim) / m.SeISim
	m.PZSim = distuv.UnitNormal.Survival(math.Abs(m.ZSim))
	return m, nil
}

// foldedP is the pseudo p-value of observed against sim, counted in the
// smaller tail.
func foldedP(sim []float64, observed float64) float64 {
	larger := 0
	for _, s := range sim {
		if s >= observed {
			larger++
		}
	}
	if len(sim)-larger < larger {
		larger = len(sim) - larger
	}
	return float64(larger+1) / float64(len(sim)+1)
}

// deviations validates y against w and returns y minus its mean.
func deviations(y []float64, w *Weights) ([]float64, error) {
	if w == nil {
		return nil, eris.New("nil weights")
	}
	if len(y) != w.N() {
		return nil, eris.Errorf("%d values for %d observations", len(y), w.N())
	}
	if len(y) < 3 {
		return nil, eris.Errorf("at least 3 observations required, got %d", len(y))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Errorf("non-finite value at observation %d", i)
		}
	}
	if floats.Max(y) == floats.Min(y) {
		return nil, eris.New("zero variance")
	}
	mean := stat.Mean(y, nil)
	z := make([]float64, len(y))
	for i, v := range y {
		z[i] = v - mean
	}
	return z, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
