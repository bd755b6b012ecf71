package loadbalance

import (
	"fmt"
	"math/rand"
	"duplexrpc/registry"
)

// WeightedRandomBalancer selects instances probabilistically based on their weight.
// An instance with weight 10 gets roughly 2x the traffic of one with weight 5.
//
// Best for: heterogeneous instances (e.g., some servers have more CPU/memory).
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each instance's weight from r until r < 0
//  4. The instance that makes r negative is selected
type WeightedRandomBalancer struct{}

// Pick selects an instance with probability proportional to weight. key is
// unused — weighting by capacity has no notion of affinity.
func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	// Calculate total weight. An instance registered with the zero-value
	// Weight counts as 1 rather than 0, so a server that never set Weight
	// explicitly still receives its fair share of traffic instead of
	// starving the rand.Intn call below with a zero total.
	totalWeight := 0
	for _, v := range instances {
		totalWeight += effectiveWeight(v)
	}
	if totalWeight == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	// Random selection proportional to weight
	r := rand.Intn(totalWeight)
	for _, v := range instances {
		r -= effectiveWeight(v)
		if r < 0 {
			return &v, nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

// effectiveWeight treats an unset Weight (the zero value a server reports
// when it never calls an option to set one) as 1 rather than 0, so it still
// receives a share of traffic instead of only ever being skipped.
func effectiveWeight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
