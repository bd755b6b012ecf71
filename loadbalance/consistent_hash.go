package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"duplexrpc/registry"
)

// ConsistentHashBalancer maps a caller-supplied key to an instance using a
// hash ring built from the currently discovered instance list, giving the
// same key cache affinity to the same instance across calls (until the
// instance set changes). client.Client drives key from the target api's
// servicemap.ApiDef.ID (falling back to the bare api name for an unknown
// api) — see client.Client.resolve — so every call to the same api lands on
// one instance rather than being spread evenly like RoundRobin would.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 instances might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per instance ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int // Virtual nodes per real instance

	mu       sync.Mutex
	builtFor string                               // fingerprint of the instance set the ring below was built from
	ring     []uint32                             // Sorted hash values on the ring
	nodes    map[uint32]*registry.ServiceInstance // Hash value → instance mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// ringFingerprint identifies an instance set by its sorted addresses, so
// Pick can tell whether the ring it built last time is still current
// without comparing slices element by element.
func ringFingerprint(instances []registry.ServiceInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

// rebuild places every instance onto the ring with b.replicas virtual nodes
// each. Each virtual node is hashed from "{addr}#{i}" to spread evenly
// across the ring. Called with b.mu held.
func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	b.ring = make([]uint32, 0, len(instances)*b.replicas)
	b.nodes = make(map[uint32]*registry.ServiceInstance, len(instances)*b.replicas)
	for i := range instances {
		inst := &instances[i]
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the instance responsible for key among instances, rebuilding
// the ring first if the instance set has changed since the last Pick. It
// hashes key, then binary-searches for the first node >= hash on the ring,
// wrapping around to the first node if the hash is larger than all of them.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fp := ringFingerprint(instances)
	if fp != b.builtFor {
		b.rebuild(instances)
		b.builtFor = fp
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
