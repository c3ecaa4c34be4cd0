package bandit

// ArmStats accumulates outcomes for one arm within one context bucket.
// Rewards are normalized to [0, 1]. Stats are updated exactly once per
// completed outcome and never rolled back.
type ArmStats struct {
	Trials      uint64  `json:"trials"`
	Successes   uint64  `json:"successes"`
	RewardSum   float64 `json:"reward_sum"`
	RewardSqSum float64 `json:"reward_sq_sum"`
}

// Mean returns the observed mean reward, or 0 for an untried arm.
func (s ArmStats) Mean() float64 {
	if s.Trials == 0 {
		return 0
	}
	return s.RewardSum / float64(s.Trials)
}

// Variance returns the observed reward variance, or 0 with fewer than two
// trials.
func (s ArmStats) Variance() float64 {
	if s.Trials < 2 {
		return 0
	}
	n := float64(s.Trials)
	mean := s.RewardSum / n
	return (s.RewardSqSum - n*mean*mean) / (n - 1)
}

// Posterior returns Beta posterior parameters over the [0, 1] reward,
// starting from a uniform Beta(1, 1) prior.
func (s ArmStats) Posterior() (alpha, beta float64) {
	return 1 + s.RewardSum, 1 + float64(s.Trials) - s.RewardSum
}

// observe folds one outcome into the stats.
func (s *ArmStats) observe(reward float64, success bool) {
	s.Trials++
	if success {
		s.Successes++
	}
	s.RewardSum += reward
	s.RewardSqSum += reward * reward
}
