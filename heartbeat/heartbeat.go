// Package heartbeat implements the ping/pong liveness subsystem: an
// optional interval-based ping, a receive idle-timeout that disconnects
// the Connection, and a latency sample taken from each pong — a full
// duplex ping/pong contract rather than a bare fire-and-forget ticker.
package heartbeat

import (
	"sync"
	"time"

	"duplexrpc/counter"
)

// Config bundles the two heartbeat durations. The Connection constructs a
// State whenever its Heartbeat option is on, whatever these values are.
// SendInterval==0 means this side never initiates a ping (pings from the
// peer are still answered); RecvTimeout==0 means no idle timeout is armed.
type Config struct {
	SendInterval time.Duration
	RecvTimeout  time.Duration
}

// State is one Connection's heartbeat bookkeeping. It owns no goroutines of
// its own beyond the two standard-library timers it arms; all timer
// callbacks are expected to re-enter the owning Connection's serialized
// execution context before touching any other Connection state — State
// guards only its own fields.
type State struct {
	cfg Config
	sn  counter.Counter

	onSendPing    func(sn uint32)
	onIdleTimeout func()

	mu           sync.Mutex
	sendTimer    *time.Timer
	recvTimer    *time.Timer
	lastSendTime time.Time
	lastLatency  time.Duration
	stopped      bool
}

// New creates heartbeat state. onSendPing is invoked (synchronously, from
// whatever goroutine the internal timer fires on) whenever a ping should be
// written to the wire with the given sn. onIdleTimeout is invoked when no
// heartbeat of either kind has been seen for cfg.RecvTimeout.
func New(cfg Config, onSendPing func(sn uint32), onIdleTimeout func()) *State {
	return &State{cfg: cfg, onSendPing: onSendPing, onIdleTimeout: onIdleTimeout}
}

// Start arms the subsystem: sends an immediate ping if SendInterval > 0,
// and arms the idle-timeout timer if RecvTimeout > 0.
func (s *State) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	if s.cfg.RecvTimeout > 0 {
		s.armRecvTimer()
	}
	if s.cfg.SendInterval > 0 {
		s.sendPing()
	}
}

// Stop disarms every timer. Safe to call more than once.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.sendTimer != nil {
		s.sendTimer.Stop()
	}
	if s.recvTimer != nil {
		s.recvTimer.Stop()
	}
}

func (s *State) sendPing() {
	sn := s.sn.Next()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.lastSendTime = time.Now()
	s.mu.Unlock()
	s.onSendPing(sn)
}

func (s *State) armRecvTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.recvTimer != nil {
		s.recvTimer.Stop()
	}
	s.recvTimer = time.AfterFunc(s.cfg.RecvTimeout, func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.onIdleTimeout()
		}
	})
}

// OnPing is called when an inbound ping (isReply=false) is dispatched. It
// resets the idle timer; the caller is responsible for writing back the
// same envelope with IsReply=true.
func (s *State) OnPing() {
	if s.cfg.RecvTimeout > 0 {
		s.armRecvTimer()
	}
}

// OnPong is called when an inbound pong (isReply=true) is dispatched. It
// resets the idle timer, records the latency sample, and — if
// SendInterval > 0 — arms the next ping after SendInterval.
func (s *State) OnPong() {
	if s.cfg.RecvTimeout > 0 {
		s.armRecvTimer()
	}
	s.mu.Lock()
	if !s.lastSendTime.IsZero() {
		s.lastLatency = time.Since(s.lastSendTime)
	}
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	if s.cfg.SendInterval > 0 {
		s.mu.Lock()
		if s.sendTimer != nil {
			s.sendTimer.Stop()
		}
		s.sendTimer = time.AfterFunc(s.cfg.SendInterval, s.sendPing)
		s.mu.Unlock()
	}
}

// LastLatency returns the most recently observed ping→pong round trip, or 0
// if no pong has been seen yet.
func (s *State) LastLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLatency
}
