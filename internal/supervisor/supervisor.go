package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/brokerwatch/internal/broker"
	"github.com/nerrad567/brokerwatch/internal/events"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
	"github.com/nerrad567/brokerwatch/internal/probe"
)

// Supervision defaults applied when the configuration leaves a value unset.
const (
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	defaultProbeInterval     = 5 * time.Second
	defaultProbeTimeout      = 5 * time.Second

	// retryJitter is the randomisation factor for signal-driven connect retries.
	retryJitter = 0.2
)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Prober checks broker liveness.
type Prober interface {
	Check(ctx context.Context) error
}

// ProberFactory builds a Prober from the probe settings and the credentials
// it should answer a challenge with.
type ProberFactory func(cfg config.ProbeConfig, username, password string) (Prober, error)

// NewHTTPProber is the default ProberFactory.
func NewHTTPProber(cfg config.ProbeConfig, username, password string) (Prober, error) {
	return probe.New(probe.Config{
		URL:      cfg.URL,
		Username: username,
		Password: password,
		Timeout:  cfg.Timeout,
	}, nil)
}

// Options configures a Supervisor. Zero values select the defaults.
type Options struct {
	// Bus carries Retry and ConnectRequested. A new Bus is created if nil.
	Bus *events.Bus

	// Dial opens broker connections. Defaults to broker.Dial.
	Dial broker.Dialer

	// NewProber builds the health probe. Defaults to NewHTTPProber.
	NewProber ProberFactory

	// Logger receives supervision logs. Defaults to a no-op logger.
	Logger Logger

	// Observer receives probe results and transitions.
	Observer Observer
}

// Supervisor owns one broker connection, watches its health, and drives
// reconnects.
//
// Lifecycle:
//   - Connect dials the broker and starts the health monitor
//   - The monitor probes on a fixed interval; a failure sets the
//     disconnected flag and the next success emits events.SignalRetry
//   - Reconnect tears the connection down and schedules
//     events.SignalConnectRequested after the reconnect delay
//   - The supervisor handles ConnectRequested itself by connecting again
//     with the captured configuration, backing off on failure
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Signals are emitted without holding the lock, so bus handlers may call
//     back into the supervisor.
type Supervisor struct {
	bus       *events.Bus
	dial      broker.Dialer
	newProber ProberFactory
	logger    Logger
	observer  Observer

	// ctx is cancelled by Close and parents every monitor and signal-driven dial.
	ctx    context.Context
	cancel context.CancelFunc

	// connectMu serialises dials so concurrent Connect calls produce one handle.
	connectMu sync.Mutex

	mu           sync.Mutex
	cfg          *config.Config
	state        State
	disconnected bool
	handle       *broker.Handle
	generation   uint64
	connectedAt  time.Time
	connects     int
	monitor      *monitor
	lastProbe    ProbeResult
	pending      *time.Timer
	pendingSeq   uint64
	retry        *backoff.ExponentialBackOff
	closed       bool

	unsubscribe func()
}

// New creates a Supervisor and subscribes it to ConnectRequested on the bus.
func New(opts Options) *Supervisor {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Dial == nil {
		opts.Dial = broker.Dial
	}
	if opts.NewProber == nil {
		opts.NewProber = NewHTTPProber
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		bus:       opts.Bus,
		dial:      opts.Dial,
		newProber: opts.NewProber,
		logger:    opts.Logger,
		observer:  opts.Observer,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateUnconnected,
	}
	s.unsubscribe = s.bus.Subscribe(events.SignalConnectRequested, s.onConnectRequested)
	return s
}

// Bus returns the event channel the supervisor emits on.
func (s *Supervisor) Bus() *events.Bus {
	return s.bus
}

// Connect establishes the broker connection and starts the health monitor.
//
// While Connected, Connect returns the existing handle without dialling.
// Otherwise any dead handle is discarded and a fresh connection is made.
// cfg is captured and reused by the monitor and by future reconnects.
//
// Parameters:
//   - ctx: Bounds the dial
//   - cfg: Configuration; must be non-nil with a broker URL
//
// Returns:
//   - *broker.Handle: The live connection handle
//   - error: ErrConfig, ErrConnect (wrapping the dial error), or ErrClosed
func (s *Supervisor) Connect(ctx context.Context, cfg *config.Config) (*broker.Handle, error) {
	if cfg == nil || strings.TrimSpace(cfg.Broker.URL) == "" {
		return nil, ErrConfig
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state == StateConnected && s.handle != nil {
		h := s.handle
		s.mu.Unlock()
		return h, nil
	}
	stale := s.handle
	s.handle = nil
	s.state = StateUnconnected
	s.cfg = cfg
	s.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			s.logger.Debug("closing stale broker connection", "error", err)
		}
	}

	target := broker.Redact(cfg.Broker.URL)
	s.logger.Info("connecting to broker", "broker", target)

	conn, err := s.dial(ctx, cfg.Broker)
	if err != nil {
		s.logger.Error("broker connection failed", "broker", target, "error", err)
		s.transition(TransitionConnectFailed, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	s.generation++
	gen := s.generation
	h := broker.NewHandle(conn, broker.Listeners{
		OnError: func(e *broker.Error) { s.onBrokerError(gen, e) },
		OnClose: func(e *broker.Error) { s.onBrokerClose(gen, e) },
	})
	s.handle = h
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.connects++
	s.retry = nil
	monErr := s.startHealthCheckLocked()
	s.mu.Unlock()

	if monErr != nil {
		s.logger.Error("health monitor not started", "error", monErr)
	}
	s.logger.Info("connected to broker", "broker", target)
	s.transition(TransitionConnected, target)

	return h, nil
}

// Reconnect tears down ch and the current connection, then schedules one
// ConnectRequested signal after the reconnect delay. It never blocks on the
// new connection.
//
// A nil ch makes Reconnect a no-op. If there is no connection only ch is
// closed and nothing is scheduled.
func (s *Supervisor) Reconnect(ch io.Closer) {
	if ch == nil {
		return
	}

	if err := ch.Close(); err != nil {
		s.logger.Debug("closing channel for reconnect", "error", err)
	}

	s.mu.Lock()
	h := s.handle
	if h == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.state = StateUnconnected
	delay := reconnectDelay(s.cfg)
	s.scheduleConnectLocked(delay)
	s.mu.Unlock()

	if err := h.Close(); err != nil {
		s.logger.Debug("closing broker connection for reconnect", "error", err)
	}

	s.logger.Info("reconnecting to broker", "delay", delay)
	s.transition(TransitionReconnect, delay.String())
}

// scheduleConnectLocked arms a single pending ConnectRequested, replacing
// any that is already armed. Caller holds s.mu.
func (s *Supervisor) scheduleConnectLocked(delay time.Duration) {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pendingSeq++
	seq := s.pendingSeq
	s.pending = time.AfterFunc(delay, func() { s.fireConnectRequested(seq) })
}

// fireConnectRequested emits ConnectRequested if seq is still the armed timer.
func (s *Supervisor) fireConnectRequested(seq uint64) {
	s.mu.Lock()
	if s.closed || seq != s.pendingSeq {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	s.transition(TransitionConnectRequested, "")
	s.bus.Emit(events.SignalConnectRequested)
}

// onConnectRequested reconnects with the captured configuration. A failed
// attempt schedules another ConnectRequested with exponential backoff.
func (s *Supervisor) onConnectRequested(events.Signal) {
	s.mu.Lock()
	cfg := s.cfg
	closed := s.closed
	s.mu.Unlock()

	if closed || cfg == nil {
		return
	}

	_, err := s.Connect(s.ctx, cfg)
	if err == nil || !errors.Is(err, ErrConnect) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.retry == nil {
		s.retry = newRetryBackoff(cfg)
	}
	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = s.retry.MaxInterval
	}
	s.scheduleConnectLocked(delay)
	s.mu.Unlock()

	s.logger.Warn("scheduled connect retry", "delay", delay)
}

// onBrokerError handles an error notification from handle generation gen.
func (s *Supervisor) onBrokerError(gen uint64, e *broker.Error) {
	if e.IsClosing() {
		s.logger.Debug("ignoring broker error during close", "reason", e.Reason)
		return
	}
	if !s.markDisconnected(gen) {
		return
	}
	s.logger.Error("broker connection error", "reason", e.Reason, "code", e.Code)
	s.transition(TransitionBrokerError, e.Reason)
}

// onBrokerClose handles a close notification from handle generation gen.
func (s *Supervisor) onBrokerClose(gen uint64, e *broker.Error) {
	if !s.markDisconnected(gen) {
		return
	}
	detail := ""
	if e != nil {
		detail = e.Reason
	}
	s.logger.Warn("broker connection closed", "reason", detail)
	s.transition(TransitionBrokerClosed, detail)
}

// markDisconnected sets the flag if gen is the current handle.
func (s *Supervisor) markDisconnected(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || gen != s.generation {
		return false
	}
	s.disconnected = true
	s.state = StateDisconnected
	return true
}

// Close stops the monitor, cancels any pending connect, and closes the
// connection. Subsequent Connect calls return ErrClosed.
//
// Close waits for the monitor goroutine, so it must not be called from a
// Retry handler.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pendingSeq++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	m := s.monitor
	s.monitor = nil
	h := s.handle
	s.handle = nil
	s.state = StateUnconnected
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()

	if m != nil {
		m.stop()
		m.wait()
	}

	if h != nil {
		if err := h.Close(); err != nil {
			return fmt.Errorf("closing broker connection: %w", err)
		}
	}
	return nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disconnected reports the disconnected flag.
func (s *Supervisor) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Handle returns the current connection handle, or nil.
func (s *Supervisor) Handle() *broker.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Status returns a snapshot for status endpoints.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:            s.state,
		Disconnected:     s.disconnected,
		ReconnectPending: s.pending != nil,
		Connects:         s.connects,
	}
	if s.cfg != nil {
		st.Broker = broker.Redact(s.cfg.Broker.URL)
		st.ProbeURL = s.cfg.Probe.URL
	}
	if s.handle != nil {
		st.ConnectedAt = s.connectedAt
	}
	if !s.lastProbe.At.IsZero() {
		st.LastProbeAt = s.lastProbe.At
		st.LastProbeOK = s.lastProbe.OK()
		st.LastProbeLatency = s.lastProbe.Latency.String()
		if s.lastProbe.Err != nil {
			st.LastProbeError = s.lastProbe.Err.Error()
		}
	}
	return st
}

// transition reports a transition to the observer with the current state.
func (s *Supervisor) transition(kind TransitionKind, detail string) {
	s.observer.ObserveTransition(Transition{
		Kind:   kind,
		At:     time.Now(),
		State:  s.State(),
		Detail: detail,
	})
}

// reconnectDelay returns the configured reconnect delay or the default.
func reconnectDelay(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Reconnect.Delay <= 0 {
		return defaultReconnectDelay
	}
	return cfg.Reconnect.Delay
}

// newRetryBackoff builds the schedule for signal-driven connect retries.
func newRetryBackoff(cfg *config.Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectDelay(cfg)
	b.MaxInterval = defaultMaxReconnectDelay
	if cfg.Reconnect.MaxDelay > 0 {
		b.MaxInterval = cfg.Reconnect.MaxDelay
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
