package middleware

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"duplexrpc/connection"
)

func echoHandler(call *connection.ApiCall) error { return nil }

func slowHandler(call *connection.ApiCall) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop().Sugar())(echoHandler)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err == nil {
		t.Fatal("expect timeout error")
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}

	for i := 0; i < 2; i++ {
		if err := handler(call); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}
	if err := handler(call); err == nil {
		t.Fatal("request 3 should be rate limited")
	}
}

func TestRetry(t *testing.T) {
	attempts := 0
	flaky := func(call *connection.ApiCall) error {
		attempts++
		if attempts < 3 {
			return errors.New("upstream timeout")
		}
		return nil
	}
	handler := RetryMiddleware(3, time.Millisecond)(flaky)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err != nil {
		t.Fatalf("expect eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetryNonRetryable(t *testing.T) {
	attempts := 0
	failing := func(call *connection.ApiCall) error {
		attempts++
		return errors.New("bad request")
	}
	handler := RetryMiddleware(3, time.Millisecond)(failing)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err == nil {
		t.Fatal("expect error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expect a non-retryable error to stop after 1 attempt, got %d", attempts)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(zap.NewNop().Sugar()), TimeoutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)
	call := &connection.ApiCall{ApiName: "Arith.Add", Sn: 1}
	if err := handler(call); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}
