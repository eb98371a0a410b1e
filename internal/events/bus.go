package events

import (
	"sync"
)

// Signal is one of the closed set of supervision signals.
type Signal string

const (
	// SignalRetry reports that broker health recovered after a period of
	// negative evidence. Consumers should consider re-opening channels and
	// resubscribing.
	SignalRetry Signal = "retry"

	// SignalConnectRequested asks the supervisor to establish a fresh
	// connection. It is scheduled by the reconnect sequence.
	SignalConnectRequested Signal = "connect"
)

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	return s == SignalRetry || s == SignalConnectRequested
}

// Handler receives a signal. Handlers run synchronously on the emitting
// goroutine and must not block for extended periods.
type Handler func(sig Signal)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a fire-and-forget publish/subscribe channel for supervision signals.
//
// Delivery is synchronous and in registration order. There is no buffering
// and no history: a handler subscribed after an Emit never sees it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers may Subscribe, unsubscribe, or Emit from within a handler.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Signal][]subscriber
	nextID uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Signal][]subscriber),
	}
}

// SetLogger sets a logger for handler panic reporting.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Subscribe registers handler for sig and returns a func that removes it.
// The returned func is idempotent.
func (b *Bus) Subscribe(sig Signal, handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[sig] = append(b.subs[sig], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sig, id) })
	}
}

func (b *Bus) remove(sig Signal, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sig]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight Emit snapshots stay intact
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[sig] = next
			return
		}
	}
}

// Emit delivers sig to every handler currently subscribed to it and
// returns the number of handlers invoked.
//
// A panicking handler is recovered and logged; remaining handlers still run.
func (b *Bus) Emit(sig Signal) int {
	b.mu.RLock()
	subs := b.subs[sig]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(sig, s.handler)
	}

	return len(subs)
}

// deliver invokes a single handler with panic recovery.
func (b *Bus) deliver(sig Signal, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.loggerMu.RLock()
			logger := b.logger
			b.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("signal handler panic recovered",
					"signal", string(sig),
					"panic", r,
				)
			}
		}
	}()

	handler(sig)
}

// Subscribers returns the number of handlers subscribed to sig.
func (b *Bus) Subscribers(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sig])
}
