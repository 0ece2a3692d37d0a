package spatial

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Quadrant codes of the Moran scatter plot.
const (
	HH = 1
	LH = 2
	LL = 3
	HL = 4
)

// NotSignificant labels observations whose pseudo p-value is not below the
// significance level.
const NotSignificant = "ns"

var quadrantLabels = map[int]string{HH: "HH", LH: "LH", LL: "LL", HL: "HL"}

// LocalMoran holds the local indicators of spatial association for every
// observation.
type LocalMoran struct {
	Is []float64
	// Q is the scatter plot quadrant of each observation.
	Q []int

	Permutations int
	PSim         []float64
	EISim        []float64
	SeISim       []float64
	ZSim         []float64
	PZSim        []float64
}

// LocalMoranI computes local Moran's I of y under weights w. Pseudo p-values
// come from conditional randomisation: observation i is held fixed while its
// neighbours are drawn from the remaining n-1 values.
func LocalMoranI(y []float64, w *Weights, perms int, seed uint64) (*LocalMoran, error) {
	z, err := deviations(y, w)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: local moran")
	}
	n := len(y)
	sd := stat.PopStdDev(y, nil)
	floats.Scale(1/sd, z)
	den := floats.Dot(z, z)
	scale := float64(n-1) / den

	lag, _ := w.Lag(z)
	lm := &LocalMoran{
		Is:           make([]float64, n),
		Q:            make([]int, n),
		Permutations: perms,
	}
	for i := range z {
		lm.Is[i] = scale * z[i] * lag[i]
		lm.Q[i] = quadrant(z[i], lag[i])
	}

	if perms <= 0 {
		return lm, nil
	}

	lm.PSim = make([]float64, n)
	lm.EISim = make([]float64, n)
	lm.SeISim = make([]float64, n)
	lm.ZSim = make([]float64, n)
	lm.PZSim = make([]float64, n)

	rng := newRand(seed)
	others := make([]int, n-1)
	sim := make([]float64, perms)
	for i := range z {
		k := len(w.Neighbors[i])
		if k == 0 {
			lm.PSim[i] = math.NaN()
			lm.EISim[i] = math.NaN()
			lm.SeISim[i] = math.NaN()
			lm.ZSim[i] = math.NaN()
			lm.PZSim[i] = math.NaN()
			continue
		}
		for j := range others {
			if j < i {
				others[j] = j
			} else {
				others[j] = j + 1
			}
		}
		for p := range sim {
			// partial Fisher-Yates: the first k entries are a uniform sample
			var s float64
			for m := 0; m < k; m++ {
				r := m + rng.IntN(len(others)-m)
				others[m], others[r] = others[r], others[m]
				s += w.Values[i][m] * z[others[m]]
			}
			sim[p] = scale * z[i] * s
		}
		lm.PSim[i] = foldedP(sim, lm.Is[i])
		lm.EISim[i] = stat.Mean(sim, nil)
		lm.SeISim[i] = stat.PopStdDev(sim, nil)
		lm.ZSim[i] = (lm.Is[i] - lm.EISim[i]) / lm.SeISim[i]
		lm.PZSim[i] = distuv.UnitNormal.Survival(math.Abs(lm.ZSim[i]))
	}
	return lm, nil
}

// quadrant follows the scatter plot convention where a zero deviation or lag
// counts as low.
func quadrant(z, lag float64) int {
	switch {
	case z > 0 && lag > 0:
		return HH
	case z <= 0 && lag > 0:
		return LH
	case z <= 0 && lag <= 0:
		return LL
	default:
		return HL
	}
}

// Quadrant labels every observation with its quadrant when its pseudo
// p-value is below sig and NotSignificant otherwise. Without permutations
// every observation is labelled by quadrant.
func (lm *LocalMoran) Quadrant(sig float64) []string {
	out := make([]string, len(lm.Q))
	for i, q := range lm.Q {
		if lm.PSim != nil && !(lm.PSim[i] < sig) {
			out[i] = NotSignificant
			continue
		}
		out[i] = quadrantLabels[q]
	}
	return out
}

// Counts returns how many observations carry each label of Quadrant(sig).
func (lm *LocalMoran) Counts(sig float64) map[string]int {
	out := make(map[string]int)
	for _, l := range lm.Quadrant(sig) {
		out[l]++
	}
	return out
}

// Hotspots returns the indices of significant high-high observations.
func (lm *LocalMoran) Hotspots(sig float64) []int {
	var out []int
	for i, l := range lm.Quadrant(sig) {
		if l == "HH" {
			out = append(out, i)
		}
	}
	return out
}
