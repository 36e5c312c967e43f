package engine

import "math/rand/v2"

// Rand is the deterministic entropy source injected into nodes. Two Rand
// values built from the same seed produce the same sequence.
type Rand struct {
	r *rand.Rand
}

// NewRand seeds a PCG generator.
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN returns a uniformly distributed integer in [low, high]. If high < low
// the bounds are swapped.
func (r *Rand) IntN(low, high int) int {
	if high < low {
		low, high = high, low
	}
	return low + r.r.IntN(high-low+1)
}

// Uniform returns a uniformly distributed float in [low, high).
func (r *Rand) Uniform(low, high float64) float64 {
	return low + r.r.Float64()*(high-low)
}
