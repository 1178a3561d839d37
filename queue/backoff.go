package queue

import (
	"time"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

// BackoffDelay computes the wait before retry attempt k (1-based):
// min(max_delay, initial_delay * 2^(k-1)). Zero policy fields fall
// back to the defaults of 2s initial, 60s cap.
func BackoffDelay(policy *registry.RetryPolicy, attempt int) time.Duration {
	initial := core.DefaultInitialRetryDelay
	max := core.DefaultMaxRetryDelay
	if policy != nil {
		if policy.InitialDelay > 0 {
			initial = policy.InitialDelay
		}
		if policy.MaxDelay > 0 {
			max = policy.MaxDelay
		}
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay < 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
