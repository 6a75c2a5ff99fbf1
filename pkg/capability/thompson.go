package capability

import (
	"math"
	"math/rand/v2"
)

// sampleBeta draws one sample from Beta(alpha, beta) using the standard
// Gamma-ratio construction: X ~ Gamma(alpha,1), Y ~ Gamma(beta,1),
// Beta sample = X/(X+Y). No distribution-sampling library appears
// anywhere in the example corpus, so this is hand-rolled against the
// standard library's math/rand/v2 (see DESIGN.md).
func sampleBeta(alpha, beta float64) float64 {
	x := sampleGamma(alpha)
	y := sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws one sample from Gamma(shape, 1) via the
// Marsaglia-Tsang method, valid for shape > 0. For shape < 1 it uses the
// standard boost-by-one transform (Gamma(a) = Gamma(a+1) * U^(1/a)).
func sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := rand.Float64()
		return sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = rand.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rand.Float64()

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// ThompsonThreshold draws an adaptive match threshold for a capability by
// sampling Beta(successes+1, failures+1) and blending it with the
// configured base threshold: a capability with a strong track record
// samples close to 1 and is therefore held to the base threshold, while
// an unproven or failure-prone capability samples lower and is held to a
// stricter (higher) effective threshold, making it harder to match.
func ThompsonThreshold(successes, failures int64, base float64) float64 {
	sample := sampleBeta(float64(successes+1), float64(failures+1))
	// sample in (0,1]; (1-sample) grows the threshold above base as track
	// record weakens, capped so it never exceeds 1.
	adjusted := base + (1-sample)*(1-base)
	if adjusted > 1 {
		return 1
	}
	return adjusted
}
