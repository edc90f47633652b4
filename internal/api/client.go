package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/models"
	"smart-queue/monitoring"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const refreshPath = "/users/token/refresh/"

type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8000/api.
	BaseURL string

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

type Client struct {
	// baseURL is the API root without a trailing slash.
	baseURL string

	// store holds the credential pair; the client keeps no copy.
	store session.Store

	// clock decides token expiry.
	clock clockwork.Clock

	// refreshes collapses concurrent refresh attempts into one request.
	refreshes singleflight.Group

	// hc is the http client.
	hc *http.Client
}

type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates a REST client that authenticates from store.
func NewClient(cfg Config, store session.Store, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: base.String(),
		store:   store,
		clock:   clockwork.NewRealClock(),
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Store() session.Store {
	return c.store
}

// Credentials returns the stored pair for use outside REST calls, such as
// opening the push channel. An expired access token is refreshed first,
// sharing the refresh with any concurrent REST request.
func (c *Client) Credentials(ctx context.Context) (session.Credentials, error) {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return session.Credentials{}, err
	}
	if !creds.AccessExpired(c.clock.Now()) {
		return creds, nil
	}
	fresh, err := c.refresh(ctx, creds.Access)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("credentials: %w", err)
	}
	return fresh, nil
}

// request describes one REST exchange.
type request struct {
	op     string
	method string
	path   string
	body   any
	out    any

	// public requests carry no bearer token and skip the refresh flow.
	public bool
}

// do performs r. On a 401 for an authenticated request it refreshes the
// access token once and replays r once; a second 401 is returned as is.
func (c *Client) do(ctx context.Context, r request) error {
	var payload []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: json.Marshal: %w", r.op, err)
		}
		payload = data
	}

	if r.public {
		code, body, err := c.send(ctx, r, payload, "")
		if err != nil {
			return err
		}
		return decodeReply(r, code, body)
	}

	creds, err := c.store.Load(ctx)
	if err != nil && !errors.Is(err, status.ErrNoCredential) {
		return fmt.Errorf("%s: load credentials: %w", r.op, err)
	}

	code, body, err := c.send(ctx, r, payload, creds.Access)
	if err != nil {
		return err
	}
	if code != http.StatusUnauthorized {
		return decodeReply(r, code, body)
	}
	if creds.Access == "" {
		return fmt.Errorf("%s: %w", r.op, status.ErrNoCredential)
	}

	fresh, err := c.refresh(ctx, creds.Access)
	if err != nil {
		return fmt.Errorf("%s: %w", r.op, err)
	}

	code, body, err = c.send(ctx, r, payload, fresh.Access)
	if err != nil {
		return err
	}
	return decodeReply(r, code, body)
}

func (c *Client) send(ctx context.Context, r request, payload []byte, access string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: http.NewRequest: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		monitoring.TrackRequest(r.op, 0, time.Since(start))
		return 0, nil, fmt.Errorf("%s: http.Do: %w", r.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	monitoring.TrackRequest(r.op, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("%s: read body: %w", r.op, err)
	}

	slog.Debug("api request", "op", r.op, "method", r.method, "path", r.path, "status", resp.StatusCode, "took", time.Since(start))
	return resp.StatusCode, body, nil
}

func decodeReply(r request, code int, body []byte) error {
	if code < 200 || code > 299 {
		return newError(code, body)
	}
	if r.out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, r.out); err != nil {
		return fmt.Errorf("%s: json.Unmarshal: %w", r.op, err)
	}
	return nil
}

// refresh exchanges the stored refresh token for a new access token.
// failedAccess is the token that was just rejected: when the store already
// holds a different one, another caller refreshed and it is reused.
func (c *Client) refresh(ctx context.Context, failedAccess string) (session.Credentials, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		creds, err := c.store.Load(ctx)
		if err != nil {
			return nil, c.expire(ctx, err)
		}
		if creds.Access != failedAccess && creds.Access != "" {
			return creds, nil
		}
		if creds.Refresh == "" || creds.RefreshExpired(c.clock.Now()) {
			monitoring.TrackRefresh(monitoring.RefreshExpired)
			return nil, c.expire(ctx, errors.New("refresh token expired"))
		}

		var pair models.TokenPair
		err = c.do(ctx, request{
			op:     "auth.refresh",
			method: http.MethodPost,
			path:   refreshPath,
			body:   map[string]string{"refresh": creds.Refresh},
			out:    &pair,
			public: true,
		})
		if err != nil || pair.Access == "" {
			monitoring.TrackRefresh(monitoring.RefreshFailed)
			if err == nil {
				err = errors.New("empty access token")
			}
			return nil, c.expire(ctx, err)
		}

		fresh := session.FromTokenPair(pair, creds)
		if err := c.store.Save(ctx, fresh); err != nil {
			return nil, fmt.Errorf("refresh: save credentials: %w", err)
		}
		monitoring.TrackRefresh(monitoring.RefreshOK)
		slog.Debug("access token refreshed")
		return fresh, nil
	})
	if err != nil {
		return session.Credentials{}, err
	}
	return v.(session.Credentials), nil
}

// expire clears the store and reports the session as over.
func (c *Client) expire(ctx context.Context, cause error) error {
	if err := c.store.Clear(ctx); err != nil {
		slog.Error("clear credentials", "error", err)
	}
	slog.Info("session expired", "cause", cause)
	return fmt.Errorf("%w: %v", status.ErrSessionExpired, cause)
}
