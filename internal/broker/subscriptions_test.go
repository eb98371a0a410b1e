package broker

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is a completed paho token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakePaho records subscribe traffic. Unused Client methods panic via the
// nil embedded interface.
type fakePaho struct {
	pahomqtt.Client

	mu           sync.Mutex
	open         bool
	subscribeErr error
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
}

func newFakePaho() *fakePaho {
	return &fakePaho{open: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return doneToken{err: f.subscribeErr}
	}
	f.handlers[topic] = cb
	return doneToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return doneToken{}
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.handlers[topic]
	f.mu.Unlock()
	cb(f, fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// logRecorder satisfies Logger.
type logRecorder struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *logRecorder) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *logRecorder) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestSubscriptions_Validation(t *testing.T) {
	s := newSubscriptions(newFakePaho())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 0, handler: noop, wantErr: ErrInvalidTopic},
		{name: "qos too high", topic: "a/b", qos: 3, handler: noop, wantErr: ErrInvalidQoS},
		{name: "nil handler", topic: "a/b", qos: 1, handler: nil, wantErr: ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscriptions_NotConnected(t *testing.T) {
	client := newFakePaho()
	client.open = false
	s := newSubscriptions(client)

	err := s.Subscribe("a/b", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptions_SubscribeFailure(t *testing.T) {
	client := newFakePaho()
	client.subscribeErr = errors.New("not authorised")
	s := newSubscriptions(client)

	err := s.Subscribe("a/b", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d after failed subscribe, want 0", s.Count())
	}
}

func TestSubscriptions_CloseUnsubscribesAll(t *testing.T) {
	client := newFakePaho()
	s := newSubscriptions(client)
	noop := func(string, []byte) error { return nil }

	for _, topic := range []string{"$SYS/broker/uptime", "sensors/#"} {
		if err := s.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if s.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", s.Count())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := append([]string(nil), client.unsubscribed...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "$SYS/broker/uptime" || got[1] != "sensors/#" {
		t.Errorf("unsubscribed = %v, want both topics", got)
	}

	if err := s.Subscribe("x", 0, noop); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrHandleClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSubscriptions_CloseWithConnectionGone(t *testing.T) {
	client := newFakePaho()
	s := newSubscriptions(client)
	_ = s.Subscribe("a/b", 0, func(string, []byte) error { return nil })

	client.mu.Lock()
	client.open = false
	client.mu.Unlock()

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
	if len(client.unsubscribed) != 0 {
		t.Errorf("unsubscribed = %v, want nothing sent", client.unsubscribed)
	}
}

func TestSubscriptions_Unsubscribe(t *testing.T) {
	client := newFakePaho()
	s := newSubscriptions(client)
	_ = s.Subscribe("a/b", 0, func(string, []byte) error { return nil })

	if err := s.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := s.Unsubscribe("unknown"); err != nil {
		t.Errorf("Unsubscribe(unknown) error = %v, want nil", err)
	}
	if err := s.Unsubscribe("a/b"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestSubscriptions_HandlerErrorsAndPanicsAreLogged(t *testing.T) {
	client := newFakePaho()
	s := newSubscriptions(client)
	logs := &logRecorder{}
	s.SetLogger(logs)

	_ = s.Subscribe("fails", 0, func(string, []byte) error { return errors.New("bad payload") })
	_ = s.Subscribe("panics", 0, func(string, []byte) error { panic("boom") })

	var got []byte
	_ = s.Subscribe("works", 0, func(_ string, payload []byte) error {
		got = payload
		return nil
	})

	client.deliver("fails", []byte("x"))
	client.deliver("panics", []byte("y"))
	client.deliver("works", []byte("z"))

	if string(got) != "z" {
		t.Errorf("payload = %q, want z", got)
	}
	if len(logs.warns) != 1 {
		t.Errorf("warnings = %v, want 1", logs.warns)
	}
	if len(logs.errors) != 1 {
		t.Errorf("errors = %v, want 1", logs.errors)
	}
}
