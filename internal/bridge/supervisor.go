// Package bridge holds the supervision glue shared by the daemons:
// stale-data tracking, availability heartbeats, bus reopen backoff and
// signal-driven shutdown.
package bridge

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/metrics"
)

// InitRetryInterval is the pause between bus open attempts.
const InitRetryInterval = 5 * time.Second

// HeartbeatInterval is how often the retained online availability is
// refreshed while the bus is healthy.
const HeartbeatInterval = 60 * time.Second

// AvailabilityReporter is the slice of the publisher the supervisor
// needs. The indirection keeps the supervisor and the publisher from
// referencing each other directly.
type AvailabilityReporter interface {
	PublishAvailability(online bool)
}

// Supervisor tracks bus freshness for one bridge and keeps the public
// availability signal truthful. Driven by the polling goroutine:
// FrameReceived on every valid frame, Tick between reads.
type Supervisor struct {
	reporter     AvailabilityReporter
	m            *metrics.Metrics
	staleTimeout time.Duration

	lastRX        time.Time
	lastHeartbeat time.Time
	stale         bool
	started       bool

	now func() time.Time
}

// NewSupervisor creates a supervisor. metrics may be nil.
func NewSupervisor(reporter AvailabilityReporter, staleTimeout time.Duration, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		reporter:     reporter,
		m:            m,
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
}

// Start marks the bridge online at pipeline startup.
func (s *Supervisor) Start() {
	now := s.now()
	s.lastRX = now
	s.lastHeartbeat = now
	s.started = true
	s.setOnline(true)
}

// FrameReceived records a valid bus frame. Coming out of the stale
// state republishes the retained online availability.
func (s *Supervisor) FrameReceived() {
	s.lastRX = s.now()
	if s.stale {
		logger.LogInfo("Bus data resumed, marking online")
		s.stale = false
		s.setOnline(true)
		s.lastHeartbeat = s.lastRX
	}
}

// Tick advances staleness accounting and emits periodic heartbeats.
// Call it on every pass of the poll loop, including read timeouts.
func (s *Supervisor) Tick() {
	if !s.started {
		return
	}
	now := s.now()

	if !s.stale && now.Sub(s.lastRX) > s.staleTimeout {
		logger.LogWarn("No valid bus data for %s, marking offline", s.staleTimeout)
		s.stale = true
		s.setOnline(false)
		return
	}

	if !s.stale && now.Sub(s.lastHeartbeat) >= HeartbeatInterval {
		s.reporter.PublishAvailability(true)
		s.lastHeartbeat = now
	}
}

// Stale reports whether the bus has gone quiet past the timeout.
func (s *Supervisor) Stale() bool {
	return s.stale
}

func (s *Supervisor) setOnline(online bool) {
	s.reporter.PublishAvailability(online)
	if s.m != nil {
		if online {
			s.m.BridgeOnline.Set(1)
		} else {
			s.m.BridgeOnline.Set(0)
		}
	}
}

// SignalContext returns a context cancelled by SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RetryOpen calls open until it succeeds, pausing interval between
// attempts. Returns the context error when the bridge is shutting down.
func RetryOpen(ctx context.Context, what string, interval time.Duration, open func() error) error {
	for {
		err := open()
		if err == nil {
			return nil
		}
		logger.LogError("Cannot open %s: %v (retrying in %s)", what, err, interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
