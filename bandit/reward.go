package bandit

import (
	"time"

	"github.com/c360studio/conductor/provider"
	"github.com/c360studio/conductor/task"
)

// RewardWeights distributes the reward signal across quality, cost, and
// latency. Weights are relative; Reward normalizes by their sum.
type RewardWeights struct {
	Quality float64 `json:"quality" yaml:"quality"`
	Cost    float64 `json:"cost" yaml:"cost"`
	Latency float64 `json:"latency" yaml:"latency"`
}

// DefaultRewardWeights favors quality over efficiency.
func DefaultRewardWeights() RewardWeights {
	return RewardWeights{Quality: 0.5, Cost: 0.25, Latency: 0.25}
}

// Fallback normalization scales for unconstrained requests.
const (
	defaultCostScale    = 1.0
	defaultLatencyScale = 30 * time.Second
)

// Reward maps an outcome to a normalized [0, 1] reward against the
// request's constraint envelope. Failures score zero: a cheap fast failure
// is still a failure.
func Reward(o provider.Outcome, c task.Constraints, w RewardWeights) float64 {
	if !o.Success {
		return 0
	}

	costScale := c.MaxCost
	if costScale <= 0 {
		costScale = defaultCostScale
	}
	latScale := c.MaxLatency
	if latScale <= 0 {
		latScale = defaultLatencyScale
	}

	quality := clamp01(o.Quality)
	costScore := 1 - clamp01(o.Cost/costScale)
	latScore := 1 - clamp01(float64(o.Latency)/float64(latScale))

	total := w.Quality + w.Cost + w.Latency
	if total <= 0 {
		return quality
	}
	return (w.Quality*quality + w.Cost*costScore + w.Latency*latScore) / total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
