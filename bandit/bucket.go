// Package bandit implements the adaptive router: a multi-armed bandit over
// (provider, model) arms partitioned by context bucket, with pluggable
// exploration policies and a circuit-breaker-aware eligibility filter.
package bandit

import (
	"fmt"
	"time"

	"github.com/c360studio/conductor/task"
)

// Arm identifies one (provider, model) pair the router can select.
type Arm struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
}

// Key returns a stable identifier for the arm.
func (a Arm) Key() string {
	return a.ProviderID + "/" + a.Model
}

// Bucket is the discretized routing context. Learning statistics are
// partitioned by bucket so that, say, urgent coding tasks and relaxed
// writing tasks learn independently.
type Bucket struct {
	Category task.Category `json:"category"`
	Priority task.Priority `json:"priority"`

	// Envelope discretizes the constraint envelope into coarse tiers.
	Envelope string `json:"envelope"`
}

// Key returns a stable identifier for the bucket.
func (b Bucket) Key() string {
	return fmt.Sprintf("%s.%s.%s", b.Category, b.Priority, b.Envelope)
}

// BucketFor reduces a request to its context bucket.
func BucketFor(req task.Request) Bucket {
	return Bucket{
		Category: req.Category,
		Priority: req.Priority,
		Envelope: costTier(req.Constraints.MaxCost) + "-" + latencyTier(req.Constraints.MaxLatency),
	}
}

// costTier discretizes a cost ceiling. Tier edges are coarse on purpose:
// finer buckets would fragment the learning statistics.
func costTier(maxCost float64) string {
	switch {
	case maxCost <= 0:
		return "anycost"
	case maxCost <= 0.01:
		return "strict"
	case maxCost <= 0.1:
		return "tight"
	case maxCost <= 1.0:
		return "standard"
	default:
		return "relaxed"
	}
}

// latencyTier discretizes a latency ceiling.
func latencyTier(maxLatency time.Duration) string {
	switch {
	case maxLatency <= 0:
		return "anylat"
	case maxLatency <= time.Second:
		return "realtime"
	case maxLatency <= 10*time.Second:
		return "interactive"
	case maxLatency <= time.Minute:
		return "standard"
	default:
		return "batch"
	}
}
