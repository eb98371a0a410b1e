package broker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
)

// defaultConnectTimeout bounds the handshake when the config sets none.
const defaultConnectTimeout = 10 * time.Second

// Dialer opens a broker connection. The supervisor takes one so tests can
// substitute a fake transport.
type Dialer func(ctx context.Context, cfg config.BrokerConfig) (Conn, error)

// Dial opens a connection using the transport selected by the URL scheme.
//
// Parameters:
//   - ctx: Cancels a handshake that is still in progress
//   - cfg: Broker settings; credentials are applied when the URL has none
//
// Returns:
//   - Conn: Live connection
//   - error: ErrUnsupportedScheme, or ErrDialFailed wrapping the transport error
func Dial(ctx context.Context, cfg config.BrokerConfig) (Conn, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrDialFailed, Redact(cfg.URL))
	}

	if u.User == nil && cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	switch strings.ToLower(u.Scheme) {
	case "amqp", "amqps":
		return dialAMQP(ctx, u, cfg, timeout)
	case "mqtt", "mqtts", "tcp", "ssl", "tls", "ws", "wss":
		return dialMQTT(ctx, u, cfg, timeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Redact returns raw with any password replaced, for logging.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
