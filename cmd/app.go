package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"smart-queue/config"
	"smart-queue/internal/api"
	"smart-queue/internal/push"
	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/security"
	"smart-queue/utils"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

var (
	errLoginRequired = errors.New("login required")
	errUnauthorized  = errors.New("unauthorized")
)

// App holds what commands share: configuration, the credential store and
// the REST client built on it.
type App struct {
	cfg   *config.Config
	out   io.Writer
	clock clockwork.Clock
	guard *security.Guard

	store  session.Store
	rdb    *redis.Client
	client *api.Client
}

type appOption func(*App)

// withClock replaces the clock used for token expiry and timestamps.
func withClock(clock clockwork.Clock) appOption {
	return func(a *App) { a.clock = clock }
}

func newApp(cfg *config.Config, out io.Writer, opts ...appOption) *App {
	a := &App{
		cfg:   cfg,
		out:   out,
		clock: clockwork.NewRealClock(),
		guard: security.NewGuard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store opens the configured credential store once.
func (a *App) Store(ctx context.Context) (session.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	var sealer *session.Sealer
	if a.cfg.SealKey != "" {
		sealer = session.NewSealer(a.cfg.SealKey)
	}

	switch session.Backend(a.cfg.SessionBackend) {
	case session.BackendMemory:
		a.store = session.NewMemoryStore()
	case session.BackendFile, "":
		a.store = session.NewFileStore(a.sessionFile(), sealer)
	case session.BackendRedis:
		rdb, err := utils.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.store = session.NewRedisStore(rdb, a.cfg.Profile, sealer)
	default:
		return nil, fmt.Errorf("%w: %s", status.ErrUnsupportedBackend, a.cfg.SessionBackend)
	}
	return a.store, nil
}

// sessionFile keeps one file per profile next to the configured one.
func (a *App) sessionFile() string {
	path := a.cfg.SessionFile
	if a.cfg.Profile == "" || a.cfg.Profile == "default" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + a.cfg.Profile + ext
}

func (a *App) Client(ctx context.Context) (*api.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	c, err := api.NewClient(api.Config{BaseURL: a.cfg.BaseURL, Timeout: a.cfg.RequestTimeout}, store, api.WithClock(a.clock))
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// Require checks the stored credential against route the way the web
// client's navigation guard does.
func (a *App) Require(ctx context.Context, route security.Route) (session.Credentials, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return session.Credentials{}, err
	}
	creds, err := store.Load(ctx)
	if err != nil && !errors.Is(err, status.ErrNoCredential) {
		return session.Credentials{}, err
	}

	switch d := a.guard.Check(creds, route); d {
	case security.Allow:
		return creds, nil
	case security.RedirectLogin:
		return session.Credentials{}, fmt.Errorf("%w: %s needs a session (run `queuectl login`)", errLoginRequired, route)
	default:
		role, _ := creds.Role()
		return session.Credentials{}, fmt.Errorf("%w: role %q cannot open %s", errUnauthorized, role, route)
	}
}

// Opener returns a push opener for the given staff channels. The access
// token is taken from the client when the channel opens, refreshed first
// if it has expired.
func (a *App) Opener(serviceIDs ...int64) (push.Transport, push.Opener, error) {
	transport, err := push.ParseTransport(a.cfg.Transport)
	if err != nil {
		return "", nil, err
	}
	open := func(ctx context.Context) (push.Source, error) {
		client, err := a.Client(ctx)
		if err != nil {
			return nil, err
		}
		creds, err := client.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		return push.NewSource(ctx, transport, push.Config{
			Access:             creds.Access,
			UserID:             creds.UserID(),
			ServiceIDs:         serviceIDs,
			WSURL:              a.cfg.WSURL,
			PubNubSubscribeKey: a.cfg.PubNubSubscribeKey,
			PubNubCipherKey:    a.cfg.PubNubCipherKey,
			PubNubUUID:         a.cfg.PubNubUUID,
			NATSURL:            a.cfg.NATSURL,
			NATSSubjectNS:      a.cfg.NATSSubjectNS,
		})
	}
	return transport, open, nil
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
}
