package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/brokerwatch/internal/events"
)

// monitor is one running health-check goroutine.
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *monitor) stop() {
	m.cancel()
}

func (m *monitor) wait() {
	<-m.done
}

// startHealthCheck replaces the running monitor, if any, with a new one.
func (s *Supervisor) startHealthCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.startHealthCheckLocked()
}

// startHealthCheckLocked cancels the current monitor and starts a new one at
// the configured probe interval. The old goroutine is not waited for; any
// result it produces after cancellation is discarded. Caller holds s.mu.
func (s *Supervisor) startHealthCheckLocked() error {
	if s.monitor != nil {
		s.monitor.stop()
		s.monitor = nil
	}
	if s.cfg == nil {
		return ErrConfig
	}

	user, pass := s.cfg.ProbeCredentials()
	prober, err := s.newProber(s.cfg.Probe, user, pass)
	if err != nil {
		return fmt.Errorf("building probe: %w", err)
	}

	interval := s.cfg.Probe.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	timeout := s.cfg.Probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	ctx, cancel := context.WithCancel(s.ctx)
	m := &monitor{cancel: cancel, done: make(chan struct{})}
	s.monitor = m

	go s.runMonitor(ctx, m, prober, interval, timeout)
	return nil
}

// runMonitor probes on every tick until ctx is cancelled. A single goroutine
// owns the ticker, so a slow probe drops ticks rather than overlapping them.
func (s *Supervisor) runMonitor(ctx context.Context, m *monitor, prober Prober, interval, timeout time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthCheck(ctx, prober, timeout)
		}
	}
}

// healthCheck runs one probe. A failure sets the disconnected flag; a success
// hands over to handleDisconnect.
func (s *Supervisor) healthCheck(ctx context.Context, prober Prober, timeout time.Duration) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	err := prober.Check(checkCtx)
	cancel()

	result := ProbeResult{At: start, Latency: time.Since(start), Err: err}

	s.mu.Lock()
	if ctx.Err() != nil {
		// Monitor was replaced or stopped while probing.
		s.mu.Unlock()
		return
	}
	s.lastProbe = result
	rising := false
	if err != nil {
		rising = !s.disconnected
		s.disconnected = true
	}
	s.mu.Unlock()

	s.observer.ObserveProbe(result)

	if err != nil {
		s.logger.Warn("broker health check failed", "error", err, "latency", result.Latency)
		if rising {
			s.transition(TransitionProbeFailed, err.Error())
		}
		return
	}

	s.logger.Debug("broker health check passed", "latency", result.Latency)
	s.handleDisconnect(ctx)
}

// handleDisconnect clears the disconnected flag and emits Retry if it was set.
// The flag is cleared before any reconnect happens; Retry only says the
// broker looks healthy again.
func (s *Supervisor) handleDisconnect(ctx context.Context) {
	s.mu.Lock()
	if ctx.Err() != nil || !s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = false
	s.mu.Unlock()

	s.logger.Info("broker healthy after disconnect, requesting retry")
	s.transition(TransitionRetry, "")
	s.bus.Emit(events.SignalRetry)
}
