package test

import (
	"testing"
	"time"

	"duplexrpc/client"
	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/loadbalance"
	"duplexrpc/registry"
	"duplexrpc/server"
)

// MockRegistry is an in-memory registry.Registry shared by the benchmarks
// below, so they don't depend on a live etcd instance.
type MockRegistry struct {
	instances map[string][]registry.ServiceInstance
}

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{instances: make(map[string][]registry.ServiceInstance)}
}

func (m *MockRegistry) Register(serviceName string, inst registry.ServiceInstance, ttl int64) error {
	m.instances[serviceName] = append(m.instances[serviceName], inst)
	return nil
}

func (m *MockRegistry) Deregister(serviceName string, addr string) error {
	insts := m.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[serviceName] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockRegistry) Discover(serviceName string) ([]registry.ServiceInstance, error) {
	return m.instances[serviceName], nil
}

func (m *MockRegistry) Watch(serviceName string) <-chan []registry.ServiceInstance {
	return nil
}

func setupServerAndClient(b *testing.B, addr string) (*server.Server, *client.Client) {
	svr := server.New(codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	if err := server.RegisterApi[Args, Reply](svr, "Arith.Add", addHandler); err != nil {
		b.Fatal(err)
	}
	go svr.Serve("tcp", addr, "", nil)
	time.Sleep(100 * time.Millisecond)

	reg := NewMockRegistry()
	reg.Register("Arith", registry.ServiceInstance{Addr: addr}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := client.New(reg, bal, svr.ServiceMap(), codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})

	return svr, cli
}

// BenchmarkSerialCall: a single goroutine calling repeatedly over one
// multiplexed connection.
func BenchmarkSerialCall(b *testing.B) {
	svr, cli := setupServerAndClient(b, "127.0.0.1:29090")
	b.Cleanup(func() { cli.Close(); svr.Shutdown(3 * time.Second) })

	args := &Args{A: 1, B: 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.CallApi[Reply](cli, "Arith.Add", args, connection.CallOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall: many goroutines sharing the same multiplexed
// connection, exercising the per-connection send queue under contention.
func BenchmarkConcurrentCall(b *testing.B) {
	svr, cli := setupServerAndClient(b, "127.0.0.1:29091")
	b.Cleanup(func() { cli.Close(); svr.Shutdown(3 * time.Second) })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &Args{A: 1, B: 2}
		for pb.Next() {
			if _, err := client.CallApi[Reply](cli, "Arith.Add", args, connection.CallOptions{}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkCodecJSON measures JSON body encode+decode cost in isolation,
// with no network involved.
func BenchmarkCodecJSON(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	args := &Args{A: 1, B: 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.EncodeBody(args, false)
		var out Args
		cdc.DecodeBody(data, &out, false)
	}
}

// BenchmarkCodecProtoStruct measures the structpb-backed binary codec's
// encode+decode cost in isolation, with no network involved.
func BenchmarkCodecProtoStruct(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeProtoStruct)
	args := &Args{A: 1, B: 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.EncodeBody(args, false)
		if err != nil {
			b.Fatal(err)
		}
		var out Args
		if err := cdc.DecodeBody(data, &out, false); err != nil {
			b.Fatal(err)
		}
	}
}
