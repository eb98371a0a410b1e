package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/logging"
	"github.com/nerrad567/brokerwatch/internal/journal"
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// fixedStatus is a StatusSource returning a canned snapshot.
type fixedStatus supervisor.Status

func (f fixedStatus) Status() supervisor.Status { return supervisor.Status(f) }

// failingLog is a TransitionLog that always errors.
type failingLog struct{}

func (failingLog) Recent(context.Context, int) ([]journal.Entry, error) {
	return nil, errors.New("disk I/O error")
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled:  true,
		Listen:   "127.0.0.1:0",
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

// testServer creates a Server with a canned status and optional journal.
func testServer(t *testing.T, log TransitionLog) *Server {
	t.Helper()

	srv, err := New(Deps{
		Config: testAPIConfig(),
		Logger: testLogger(),
		Status: fixedStatus{
			State:    supervisor.StateConnected,
			Broker:   "amqp://rabbit:5672/",
			ProbeURL: "http://rabbit:15672/api/health/checks/alarms",
			Connects: 2,
		},
		Journal:  log,
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

// openJournal creates a journal with a few transitions recorded.
func openJournal(t *testing.T, kinds ...string) *journal.Journal {
	t.Helper()
	j, err := journal.Open(context.Background(), journal.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, kind := range kinds {
		if _, err := j.Record(context.Background(), journal.Entry{
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Kind:       kind,
			State:      "connected",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	return j
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(Deps{Status: fixedStatus{}}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without status source succeeded")
	}
}

// ─── Health and Status ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := serve(t, srv, http.MethodGet, path)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type = %q", path, ct)
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp["status"] != "ok" || resp["version"] != "test" {
			t.Errorf("%s body = %v", path, resp)
		}
	}
}

// checkFunc adapts a function to HealthChecker.
type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth_Components(t *testing.T) {
	healthyJournal := openJournal(t)
	down := checkFunc(func(context.Context) error { return errors.New("influxdb health check: ping: server not healthy") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
		wantFailed string
	}{
		{name: "no dependencies", checks: nil, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "journal healthy", checks: map[string]HealthChecker{"journal": healthyJournal}, wantCode: http.StatusOK, wantStatus: "ok"},
		{
			name:       "influxdb down",
			checks:     map[string]HealthChecker{"journal": healthyJournal, "influxdb": down},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantFailed: "influxdb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Deps{
				Config:  testAPIConfig(),
				Logger:  testLogger(),
				Status:  fixedStatus{State: supervisor.StateConnected},
				Checks:  tt.checks,
				Version: "test",
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			w := serve(t, srv, http.MethodGet, "/api/v1/health")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			var resp struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Components) != len(tt.checks) {
				t.Errorf("components = %v, want %d entries", resp.Components, len(tt.checks))
			}
			for name, state := range resp.Components {
				failed := name == tt.wantFailed
				if failed == (state == "ok") {
					t.Errorf("component %s = %q", name, state)
				}
			}

			// Liveness ignores dependencies.
			if w := serve(t, srv, http.MethodGet, "/health"); w.Code != http.StatusOK {
				t.Errorf("/health = %d, want 200", w.Code)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	srv := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}

	var got supervisor.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State != supervisor.StateConnected || got.Connects != 2 || got.Broker != "amqp://rabbit:5672/" {
		t.Errorf("status = %+v", got)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name     string
		status   fixedStatus
		wantCode int
	}{
		{name: "connected", status: fixedStatus{State: supervisor.StateConnected}, wantCode: http.StatusOK},
		{name: "connected but probe failing", status: fixedStatus{State: supervisor.StateConnected, Disconnected: true}, wantCode: http.StatusServiceUnavailable},
		{name: "broker dropped", status: fixedStatus{State: supervisor.StateDisconnected, Disconnected: true}, wantCode: http.StatusServiceUnavailable},
		{name: "never connected", status: fixedStatus{State: supervisor.StateUnconnected}, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Deps{Config: testAPIConfig(), Logger: testLogger(), Status: tt.status})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			w := serve(t, srv, http.MethodGet, "/api/v1/ready")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusOK {
				return
			}
			var apiErr Error
			if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if apiErr.Code != ErrCodeNotConnected {
				t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotConnected)
			}
			if apiErr.RequestID == "" || apiErr.RequestID != w.Header().Get("X-Request-ID") {
				t.Errorf("request_id = %q, header = %q", apiErr.RequestID, w.Header().Get("X-Request-ID"))
			}
		})
	}
}

func TestWriteError_UnknownCode(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), "teapot", "short and stout")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if apiErr.Code != ErrCodeInternal || apiErr.RequestID != "" {
		t.Errorf("body = %+v", apiErr)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv := testServer(t, nil)
	if w := serve(t, srv, http.MethodGet, "/metrics"); w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}

	srv.gatherer = nil
	if w := serve(t, srv, http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("/metrics without gatherer = %d, want 404", w.Code)
	}
}

// ─── Transitions ───────────────────────────────────────────────────

func TestTransitions(t *testing.T) {
	j := openJournal(t, "connected", "probe_failed", "retry", "reconnect")
	srv := testServer(t, j)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		wantFirst string
	}{
		{name: "default limit", query: "", wantCode: http.StatusOK, wantCount: 4, wantFirst: "reconnect"},
		{name: "limited", query: "?limit=2", wantCode: http.StatusOK, wantCount: 2, wantFirst: "reconnect"},
		{name: "over max is capped", query: "?limit=100000", wantCode: http.StatusOK, wantCount: 4, wantFirst: "reconnect"},
		{name: "zero", query: "?limit=0", wantCode: http.StatusBadRequest},
		{name: "not a number", query: "?limit=ten", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, srv, http.MethodGet, "/api/v1/transitions"+tt.query)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				var apiErr Error
				if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
					t.Fatalf("unmarshal error body: %v", err)
				}
				if apiErr.Code != ErrCodeBadRequest {
					t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeBadRequest)
				}
				return
			}

			var resp struct {
				Transitions []journal.Entry `json:"transitions"`
				Count       int             `json:"count"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Count != tt.wantCount || len(resp.Transitions) != tt.wantCount {
				t.Fatalf("count = %d (%d entries), want %d", resp.Count, len(resp.Transitions), tt.wantCount)
			}
			if resp.Transitions[0].Kind != tt.wantFirst {
				t.Errorf("first kind = %q, want %q", resp.Transitions[0].Kind, tt.wantFirst)
			}
		})
	}
}

func TestTransitions_JournalDisabled(t *testing.T) {
	srv := testServer(t, nil)
	if w := serve(t, srv, http.MethodGet, "/api/v1/transitions"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestTransitions_JournalError(t *testing.T) {
	srv := testServer(t, failingLog{})
	if w := serve(t, srv, http.MethodGet, "/api/v1/transitions"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{name: "any origin when unset", allowed: nil, origin: "http://grafana:3000", want: "http://grafana:3000"},
		{name: "listed origin", allowed: []string{"http://grafana:3000"}, origin: "http://grafana:3000", want: "http://grafana:3000"},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://ops", want: "http://ops"},
		{name: "unlisted origin", allowed: []string{"http://grafana:3000"}, origin: "http://evil", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, nil)
			srv.cfg.CORS.AllowedOrigins = tt.allowed

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, nil)
	if w := serve(t, srv, http.MethodGet, "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── WebSocket Hub ─────────────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())
	subscribed := newTestClient(hub, ChannelTransition)
	other := newTestClient(hub, ChannelProbe)
	hub.Register(subscribed)
	hub.Register(other)

	hub.ObserveTransition(supervisor.Transition{
		Kind:   supervisor.TransitionBrokerClosed,
		At:     time.Now(),
		State:  supervisor.StateDisconnected,
		Detail: "CONNECTION_FORCED",
	})

	select {
	case msg := <-subscribed.send:
		var wsMsg struct {
			EventType string          `json:"event_type"`
			Payload   TransitionEvent `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelTransition {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelTransition)
		}
		if wsMsg.Payload.Kind != "broker_closed" || wsMsg.Payload.State != "disconnected" || wsMsg.Payload.Detail != "CONNECTION_FORCED" {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("probe-only client received a transition")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ObserveProbe(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())
	client := newTestClient(hub, ChannelProbe)
	hub.Register(client)

	hub.ObserveProbe(supervisor.ProbeResult{At: time.Now(), Latency: 1500 * time.Microsecond, Err: errors.New("probe: broker reports unhealthy")})

	select {
	case msg := <-client.send:
		var wsMsg struct {
			Payload ProbeEvent `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Payload.OK || wsMsg.Payload.LatencyMS != 1.5 || wsMsg.Payload.Error == "" {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for probe event")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	hub.Register(newTestClient(hub))
	cancel()
	<-done
	if hub.ClientCount() != 0 {
		t.Errorf("after Run exits count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_SlowClientDropsFrames(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())
	client := newTestClient(hub, ChannelProbe)
	hub.Register(client)

	for range wsSendBufferSize + 3 {
		hub.ObserveProbe(supervisor.ProbeResult{At: time.Now()})
	}
	if got := client.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	hub.Unregister(client)
	hub.Unregister(client)
	hub.ObserveProbe(supervisor.ProbeResult{At: time.Now()})
	if got := client.dropped.Load(); got != 3 {
		t.Errorf("dropped after unregister = %d, want 3", got)
	}
}

func TestHub_EventsAreSequenced(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())
	client := newTestClient(hub, ChannelTransition, ChannelProbe)
	hub.Register(client)

	hub.ObserveProbe(supervisor.ProbeResult{At: time.Now()})
	hub.ObserveTransition(supervisor.Transition{Kind: supervisor.TransitionRetry, At: time.Now()})

	var prev uint64
	for i := 0; i < 2; i++ {
		var msg WSMessage
		if err := json.Unmarshal(<-client.send, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Seq <= prev {
			t.Errorf("seq %d after %d", msg.Seq, prev)
		}
		prev = msg.Seq
	}
}

// ─── Live server ───────────────────────────────────────────────────

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := testServer(t, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, nil)
	if err := srv.HealthCheck(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start = %v, want ErrNotStarted", err)
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := startServer(t)

	cfg := testAPIConfig()
	cfg.Listen = first.Addr()
	second, err := New(Deps{Config: cfg, Logger: testLogger(), Status: fixedStatus{}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		_ = second.Close()
		t.Fatal("Start() on a bound port succeeded")
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func writeWS(t *testing.T, ws *websocket.Conn, msg WSMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := startServer(t)
	ws := dialWS(t, srv)

	writeWS(t, ws, WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelTransition}},
	})
	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	if srv.Hub().ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.Hub().ClientCount())
	}

	srv.Hub().ObserveTransition(supervisor.Transition{
		Kind:  supervisor.TransitionRetry,
		At:    time.Now(),
		State: supervisor.StateConnected,
	})
	ev := readWS(t, ws)
	if ev.Type != WSTypeEvent || ev.EventType != ChannelTransition {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_SubscribeAllByDefault(t *testing.T) {
	srv := startServer(t)
	ws := dialWS(t, srv)

	writeWS(t, ws, WSMessage{Type: WSTypeSubscribe, ID: "all"})
	if resp := readWS(t, ws); resp.Type != WSTypeResponse {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().ObserveProbe(supervisor.ProbeResult{At: time.Now()})
	if ev := readWS(t, ws); ev.EventType != ChannelProbe {
		t.Errorf("event = %+v, want %s", ev, ChannelProbe)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	srv := startServer(t)
	ws := dialWS(t, srv)

	tests := []struct {
		name    string
		send    WSMessage
		raw     string
		wantMsg string
	}{
		{
			name:    "unknown channel",
			send:    WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}}},
			wantMsg: "unknown channel",
		},
		{
			name:    "unknown type",
			send:    WSMessage{Type: "publish", ID: "2"},
			wantMsg: "unknown message type",
		},
		{
			name:    "invalid json",
			raw:     "{not json",
			wantMsg: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.raw != "" {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
					t.Fatalf("write: %v", err)
				}
			} else {
				writeWS(t, ws, tt.send)
			}

			resp := readWS(t, ws)
			if resp.Type != WSTypeError {
				t.Fatalf("type = %q, want %q", resp.Type, WSTypeError)
			}
			payload, _ := resp.Payload.(map[string]any)
			if msg, _ := payload["message"].(string); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv := startServer(t)
	ws := dialWS(t, srv)

	writeWS(t, ws, WSMessage{Type: WSTypePing, ID: "p1"})
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "p1" {
		t.Errorf("ping response = %+v", resp)
	}
}
