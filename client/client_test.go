package client

import (
	"testing"
	"time"

	"duplexrpc/codec"
	"duplexrpc/connection"
	"duplexrpc/loadbalance"
	"duplexrpc/registry"
	"duplexrpc/server"
)

type Args struct{ A, B int }
type Reply struct{ Result int }

func addHandler(call *connection.ApiCall, req *Args) (*Reply, error) {
	return &Reply{Result: req.A + req.B}, nil
}

// MockRegistry is an in-memory registry.Registry, so client tests don't
// depend on a live etcd instance.
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

func TestClientWithRegistryAndLB(t *testing.T) {
	svr := server.New(codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	if err := server.RegisterApi[Args, Reply](svr, "Arith.Add", addHandler); err != nil {
		t.Fatal(err)
	}
	addr := "127.0.0.1:18080"
	go svr.Serve("tcp", addr, "", nil)
	defer svr.Shutdown(3 * time.Second)
	time.Sleep(100 * time.Millisecond)

	reg := NewMockRegistry()
	reg.Register("Arith", registry.ServiceInstance{Addr: addr, Weight: 1}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := New(reg, bal, svr.ServiceMap(), codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	defer cli.Close()

	ret, err := CallApi[Reply](cli, "Arith.Add", &Args{A: 1, B: 2}, connection.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !ret.Succ {
		t.Fatalf("call failed: %v", ret.Err)
	}
	if ret.Res.Result != 3 {
		t.Fatalf("expect 3, got %v", ret.Res.Result)
	}

	ret2, err := CallApi[Reply](cli, "Arith.Add", &Args{A: 10, B: 20}, connection.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if ret2.Res.Result != 30 {
		t.Fatalf("expect 30, got %v", ret2.Res.Result)
	}
}

func TestClientMultipleInstances(t *testing.T) {
	svr1 := server.New(codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	if err := server.RegisterApi[Args, Reply](svr1, "Arith.Add", addHandler); err != nil {
		t.Fatal(err)
	}
	addr1 := "127.0.0.1:18081"
	go svr1.Serve("tcp", addr1, "", nil)
	defer svr1.Shutdown(3 * time.Second)

	svr2 := server.New(codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	if err := server.RegisterApi[Args, Reply](svr2, "Arith.Add", addHandler); err != nil {
		t.Fatal(err)
	}
	addr2 := "127.0.0.1:18082"
	go svr2.Serve("tcp", addr2, "", nil)
	defer svr2.Shutdown(3 * time.Second)

	time.Sleep(100 * time.Millisecond)

	reg := NewMockRegistry()
	reg.Register("Arith", registry.ServiceInstance{Addr: addr1, Weight: 1}, 10)
	reg.Register("Arith", registry.ServiceInstance{Addr: addr2, Weight: 1}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	// Both servers register their apis independently, so a single shared
	// ServiceMap doesn't exist here — build the client against svr1's, which
	// is enough since Args/Reply and "Arith.Add" are registered identically
	// (same order) on both.
	cli := New(reg, bal, svr1.ServiceMap(), codec.CodecTypeJSON, connection.Options{WireMode: connection.WireBuffer})
	defer cli.Close()

	for i := 0; i < 10; i++ {
		ret, err := CallApi[Reply](cli, "Arith.Add", &Args{A: i, B: i}, connection.CallOptions{Timeout: time.Second})
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !ret.Succ {
			t.Fatalf("request %d failed: %v", i, ret.Err)
		}
		if ret.Res.Result != i*2 {
			t.Fatalf("request %d: expect %d, got %d", i, i*2, ret.Res.Result)
		}
	}
}
