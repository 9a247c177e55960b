package dpgbdt

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// maxExponentialRedraws bounds how many times selectSplit redraws from the
// exponential mechanism's distribution before giving up, matching the
// prototype's retry cap for the degenerate case where floating-point
// rounding leaves the cumulative distribution short of 1.
const maxExponentialRedraws = 10

// deltaG is the split-gain sensitivity, 3*G^2, for a gradient bound G.
func deltaG(g float64) float64 { return 3 * g * g }

// deltaV is the leaf-value sensitivity for tree index t (0-based) out of a
// boosting sequence with learning rate eta and regularizer lambda.
func deltaV(g, lambda, eta float64, treeIndex int) float64 {
	decayed := 2 * g * math.Pow(1-eta, float64(treeIndex))
	bounded := g / (1 + lambda)
	return math.Min(bounded, decayed)
}

// sampleLaplace draws a single Laplace(0, scale) sample.
func sampleLaplace(rng *rand.Rand, scale float64) float64 {
	d := distuv.Laplace{Mu: 0, Scale: scale, Src: rng}
	return d.Rand()
}

// selectSplit runs the exponential mechanism over candidates, weighting
// candidate i by exp(epsNode*gain_i/(2*deltaG)). A candidate with gain
// exactly 0 still participates with weight exp(0) = 1; a candidate with
// strictly negative gain is excluded outright (weight 0), never entering
// the log-sum-exp denominator. If no candidate has strictly positive gain,
// selectSplit returns (nil, false) immediately without drawing randomness.
func selectSplit(rng *rand.Rand, candidates []splitCandidate, epsNode, dg float64) (*splitCandidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	anyPositive := false
	for _, c := range candidates {
		if c.Gain > 0 {
			anyPositive = true
			break
		}
	}
	if !anyPositive {
		return nil, false
	}

	exponents := make([]float64, len(candidates))
	maxExp := math.Inf(-1)
	for i, c := range candidates {
		if c.Gain < 0 {
			exponents[i] = math.Inf(-1)
			continue
		}
		exponents[i] = epsNode * c.Gain / (2 * dg)
		if exponents[i] > maxExp {
			maxExp = exponents[i]
		}
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, e := range exponents {
		if math.IsInf(e, -1) {
			continue
		}
		w := math.Exp(e - maxExp)
		weights[i] = w
		total += w
	}
	if total == 0 {
		return nil, false
	}

	cumulative := make([]float64, len(candidates))
	var running float64
	for i, w := range weights {
		running += w / total
		cumulative[i] = running
	}

	for attempt := 0; attempt < maxExponentialRedraws; attempt++ {
		draw := rng.Float64()
		for i, c := range cumulative {
			if draw <= c {
				return &candidates[i], true
			}
		}
	}
	return nil, false
}
