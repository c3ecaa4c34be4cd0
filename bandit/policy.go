package bandit

import (
	"math"
	"math/rand/v2"
)

// ArmSample is the view a policy sees of one candidate arm. Candidates are
// presented in deterministic tie-break order (success rate, then cost,
// then provider/model lexical), so argmax-with-first-wins resolves ties
// deterministically.
type ArmSample struct {
	Arm   Arm
	Stats ArmStats
}

// Policy selects one candidate index from a non-empty candidate list.
// Implementations must be safe for concurrent use; the router serializes
// access to rng.
type Policy interface {
	// Name identifies the policy in decisions, logs, and metrics.
	Name() string

	// Select returns the index of the chosen candidate.
	Select(rng *rand.Rand, candidates []ArmSample) int
}

// EpsilonGreedy explores uniformly with probability Epsilon and otherwise
// exploits the best observed mean reward. Untried arms are explored first.
type EpsilonGreedy struct {
	Epsilon float64
}

// Name implements Policy.
func (p EpsilonGreedy) Name() string { return "epsilon_greedy" }

// Select implements Policy.
func (p EpsilonGreedy) Select(rng *rand.Rand, candidates []ArmSample) int {
	if i := firstUntried(candidates); i >= 0 {
		return i
	}
	if rng.Float64() < p.Epsilon {
		return rng.IntN(len(candidates))
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Stats.Mean() > candidates[best].Stats.Mean() {
			best = i
		}
	}
	return best
}

// ThompsonSampling samples each arm's Beta posterior over the normalized
// reward and picks the maximum sample.
type ThompsonSampling struct{}

// Name implements Policy.
func (ThompsonSampling) Name() string { return "thompson" }

// Select implements Policy.
func (ThompsonSampling) Select(rng *rand.Rand, candidates []ArmSample) int {
	best := 0
	bestSample := -1.0
	for i, c := range candidates {
		alpha, beta := c.Stats.Posterior()
		sample := sampleBeta(rng, alpha, beta)
		if sample > bestSample {
			best = i
			bestSample = sample
		}
	}
	return best
}

// UCB1 picks the arm maximizing mean + sqrt(2 ln(total) / trials).
// Untried arms are selected before any exploitation.
type UCB1 struct{}

// Name implements Policy.
func (UCB1) Name() string { return "ucb1" }

// Select implements Policy.
func (UCB1) Select(_ *rand.Rand, candidates []ArmSample) int {
	if i := firstUntried(candidates); i >= 0 {
		return i
	}

	var total uint64
	for _, c := range candidates {
		total += c.Stats.Trials
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, c := range candidates {
		score := c.Stats.Mean() + math.Sqrt(2*math.Log(float64(total))/float64(c.Stats.Trials))
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

// firstUntried returns the index of the first arm with no trials, or -1.
func firstUntried(candidates []ArmSample) int {
	for i, c := range candidates {
		if c.Stats.Trials == 0 {
			return i
		}
	}
	return -1
}

// sampleBeta draws from Beta(alpha, beta) via two gamma draws.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// Boost: Gamma(a) = Gamma(a+1) * U^(1/a).
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
