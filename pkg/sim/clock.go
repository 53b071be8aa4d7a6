// Package sim drives the two clock domains (CPU, DRAM) and routes each
// trace transaction through the cache hierarchy and, on miss, through
// the DRAM channel (component J).
package sim

import "fmt"

// Ratio is an integer clock-domain ratio n:d — the faster domain ticks
// n times for every d ticks of the slower one (§5).
type Ratio struct {
	N, D int
}

// ApproximateRatio derives an integer ratio approximating x via a
// continued-fraction expansion, capped at 15 iterations and terminating
// early once the approximation is within epsilon of x (§4.8/§5:
// "derived by a continued-fractions approximation of the requested
// ratio, 15-iteration cap, termination when |x - n/d| < 5e-5").
func ApproximateRatio(x float64) (Ratio, error) {
	const maxIterations = 15
	const epsilon = 5e-5

	if x <= 0 {
		return Ratio{}, fmt.Errorf("sim: clock ratio must be positive, got %v", x)
	}

	// Standard continued-fraction convergent recurrence: h/k approximates
	// x after each term a is folded in.
	h0, h1 := 0, 1
	k0, k1 := 1, 0
	remainder := x

	for i := 0; i < maxIterations; i++ {
		a := int(remainder)
		h2 := a*h1 + h0
		k2 := a*k1 + k0
		h0, h1 = h1, h2
		k0, k1 = k1, k2

		if k1 != 0 {
			approx := float64(h1) / float64(k1)
			if absFloat(x-approx) < epsilon {
				return Ratio{N: h1, D: k1}, nil
			}
		}

		frac := remainder - float64(a)
		if frac == 0 {
			break
		}
		remainder = 1 / frac
	}

	return Ratio{N: h1, D: k1}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
