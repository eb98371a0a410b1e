package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/brokerwatch/internal/broker"
	"github.com/nerrad567/brokerwatch/internal/events"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// initialConnectMaxInterval caps the wait between startup connect attempts.
const initialConnectMaxInterval = 30 * time.Second

// keeper holds one broker channel open across reconnects. It opens a channel
// whenever the supervisor reports a connection and hands it back through
// Reconnect when broker health recovers.
type keeper struct {
	sup *supervisor.Supervisor
	cfg *config.Config
	log supervisor.Logger

	connected chan struct{}
	retry     chan struct{}

	mu sync.Mutex
	ch broker.Channel
}

func newKeeper(cfg *config.Config, log supervisor.Logger) *keeper {
	return &keeper{
		cfg:       cfg,
		log:       log,
		connected: make(chan struct{}, 1),
		retry:     make(chan struct{}, 1),
	}
}

// notify does a non-blocking send; one pending wakeup is enough.
func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// ObserveProbe implements supervisor.Observer.
func (k *keeper) ObserveProbe(supervisor.ProbeResult) {}

// ObserveTransition implements supervisor.Observer.
func (k *keeper) ObserveTransition(t supervisor.Transition) {
	if t.Kind == supervisor.TransitionConnected {
		notify(k.connected)
	}
}

func (k *keeper) onRetry(events.Signal) {
	notify(k.retry)
}

// run makes the first connection, retrying with backoff, then services
// connect and retry notifications until ctx is cancelled.
func (k *keeper) run(ctx context.Context) error {
	unsubscribe := k.sup.Bus().Subscribe(events.SignalRetry, k.onRetry)
	defer unsubscribe()

	if err := k.connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			k.closeChannel()
			return nil
		case <-k.connected:
			k.openChannel()
		case <-k.retry:
			k.cycle()
		}
	}
}

// connect dials until the first connection succeeds or ctx ends.
func (k *keeper) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = k.cfg.Reconnect.Delay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = initialConnectMaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		_, err := k.sup.Connect(ctx, k.cfg)
		if errors.Is(err, supervisor.ErrConfig) || errors.Is(err, supervisor.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		k.log.Warn("initial broker connect failed", "error", err, "retry_in", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), onRetry)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// noChannel stands in for a channel that could not be opened, so Reconnect
// still tears down the connection.
type noChannel struct{}

func (noChannel) Close() error { return nil }

// openChannel replaces the held channel with one on the current handle and
// reports whether it succeeded.
func (k *keeper) openChannel() bool {
	h := k.sup.Handle()
	if h == nil {
		return false
	}

	ch, err := h.Channel()
	if err != nil {
		k.log.Warn("could not open broker channel", "error", err)
		return false
	}

	k.mu.Lock()
	old := k.ch
	k.ch = ch
	k.mu.Unlock()

	if old != nil {
		_ = old.Close() //nolint:errcheck // old channel belongs to a dead connection
	}
	k.log.Info("broker channel open")
	return true
}

// cycle hands the channel to Reconnect. Without a channel it opens one if
// the connection is still up; a dead connection, or one that refuses a
// channel, is reconnected anyway. The monitor has already cleared the
// disconnected flag, so no further retry would come.
func (k *keeper) cycle() {
	k.mu.Lock()
	ch := k.ch
	k.ch = nil
	k.mu.Unlock()

	if ch == nil {
		if k.sup.State() == supervisor.StateConnected && k.openChannel() {
			return
		}
		ch = noChannel{}
	}
	k.log.Info("broker health recovered, cycling connection")
	k.sup.Reconnect(ch)
}

func (k *keeper) closeChannel() {
	k.mu.Lock()
	ch := k.ch
	k.ch = nil
	k.mu.Unlock()

	if ch != nil {
		_ = ch.Close() //nolint:errcheck // shutting down
	}
}

// channel returns the held channel, for status and tests.
func (k *keeper) channel() broker.Channel {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ch
}
