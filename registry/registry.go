// Package registry defines the service discovery interface and data types.
//
// Service discovery solves the problem of "how does the client find the server?"
// Instead of hardcoding IP:port, servers register themselves in a central registry (etcd),
// and clients query the registry to find available instances.
package registry

import "duplexrpc/transportdata"

// ServiceInstance represents a single running instance of a service.
//
// Proto and Services ride along in the same JSON blob a registry stores —
// EtcdRegistry never special-cases them, it marshals/unmarshals the whole
// struct — so a client can tell, before ever dialing, whether an instance's
// schema fingerprint matches its own ServiceMap and which api names it
// actually serves (a registry lists instances by ServiceName prefix, not by
// individual api, so a Server backing several names under one ServiceName
// still needs a way to say which ones).
type ServiceInstance struct {
	Addr    string // Network address, e.g., "127.0.0.1:8080"
	Weight  int    // Weight for load balancing (higher = more traffic)
	Version string // Service version for canary deployments

	// Proto is the registering Server's servicemap.ServiceMap.LocalProtoInfo
	// fingerprint. A client compares this against its own before routing a
	// call there, to catch a stale/mismatched deploy instead of discovering
	// the mismatch only after a decode failure on the wire.
	Proto transportdata.ProtoInfo
	// Services lists the api/msg names this instance serves, from
	// servicemap.ServiceMap.ApiNames at registration time.
	Services []string
}

// Registry is the interface for service registration and discovery.
// Implementations include EtcdRegistry (production) and MockRegistry (testing).
type Registry interface {
	// Register adds a service instance to the registry with a TTL lease.
	// The instance will be automatically removed if KeepAlive stops (e.g., server crashes).
	Register(serviceName string, instance ServiceInstance, ttl int64) error

	// Deregister removes a service instance from the registry.
	// Called during graceful shutdown BEFORE closing the listener.
	Deregister(serviceName string, addr string) error

	// Discover returns all currently registered instances for a service.
	// The client calls this to get the instance list for load balancing.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch returns a channel that emits updated instance lists whenever
	// the service's instances change (new instances, removals, etc.).
	// This enables real-time service discovery without polling.
	Watch(serviceName string) <-chan []ServiceInstance
}
