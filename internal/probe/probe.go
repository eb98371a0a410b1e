package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// defaultTimeout bounds a probe when the caller sets none.
	defaultTimeout = 5 * time.Second

	// maxBodyBytes caps how much of the status response is read.
	maxBodyBytes = 1 << 20

	// healthyStatus is the status value that means the broker is fine.
	healthyStatus = "ok"
)

// Config holds the probe target and credentials.
type Config struct {
	// URL is the status endpoint, queried with GET.
	URL string

	// Username and Password are sent only when the server challenges
	// with a Basic WWW-Authenticate header.
	Username string
	Password string

	// Timeout bounds a single Check, including the challenge round trip.
	Timeout time.Duration
}

// Prober checks broker liveness over HTTP.
//
// Thread Safety:
//   - Check is safe for concurrent use.
type Prober struct {
	cfg    Config
	client *http.Client
}

// statusBody is the subset of the status response the probe inspects.
type statusBody struct {
	Status *string `json:"status"`
	Reason string  `json:"reason,omitempty"`
}

// New creates a Prober. A nil client means a default client is used.
//
// Returns:
//   - *Prober: ready to Check
//   - error: ErrInvalidURL if cfg.URL is not an absolute http(s) URL
func New(cfg Config, client *http.Client) (*Prober, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials must not be embedded in the URL", ErrInvalidURL)
	}
	cfg.URL = u.String()

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Prober{cfg: cfg, client: client}, nil
}

// URL returns the probe target.
func (p *Prober) URL() string {
	return p.cfg.URL
}

// Check performs one liveness probe.
//
// The first request is sent without credentials. If the server answers 401
// with a Basic challenge, the request is repeated once with basic auth.
//
// Returns:
//   - error: nil when the body's status is "ok"; otherwise one of
//     ErrRequestFailed, ErrEmptyBody, ErrMalformedBody, ErrUnhealthy
func (p *Prober) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.do(ctx, false)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && p.canAnswer(resp) {
		drain(resp)
		resp, err = p.do(ctx, true)
		if err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: unauthorized (http %d)", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}

	return evaluate(resp.StatusCode, body)
}

// do issues the GET, optionally with basic auth.
func (p *Prober) do(ctx context.Context, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	if withAuth {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return resp, nil
}

// canAnswer reports whether resp is a Basic challenge we hold credentials for.
func (p *Prober) canAnswer(resp *http.Response) bool {
	if p.cfg.Username == "" && p.cfg.Password == "" {
		return false
	}
	for _, challenge := range resp.Header.Values("WWW-Authenticate") {
		scheme, _, _ := strings.Cut(strings.TrimSpace(challenge), " ")
		if strings.EqualFold(scheme, "Basic") {
			return true
		}
	}
	return false
}

// evaluate classifies a status response body.
func evaluate(statusCode int, body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w (http %d)", ErrEmptyBody, statusCode)
	}

	var status statusBody
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	if status.Status == nil {
		return fmt.Errorf("%w: missing status field (http %d)", ErrMalformedBody, statusCode)
	}

	if *status.Status != healthyStatus {
		if status.Reason != "" {
			return fmt.Errorf("%w: status %q: %s", ErrUnhealthy, *status.Status, status.Reason)
		}
		return fmt.Errorf("%w: status %q (http %d)", ErrUnhealthy, *status.Status, statusCode)
	}

	return nil
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}
