package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smart-queue/internal/status"
	"smart-queue/utils"

	"github.com/go-co-op/gocron/v2"
)

// RefetchFunc reloads one view's data.
type RefetchFunc func(ctx context.Context) error

// Refresher periodically runs registered refetches. Each target has its
// own circuit breaker so an unreachable server is not polled at full rate.
type Refresher struct {
	scheduler gocron.Scheduler
	interval  time.Duration
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	targets map[string]*utils.CircuitBreaker

	// fatal carries the first error after which polling is pointless.
	fatal chan error
}

// NewRefresher creates a refresher that polls every interval. Each run is
// bounded by timeout when it is positive.
func NewRefresher(interval, timeout time.Duration, opts ...gocron.SchedulerOption) (*Refresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresher: interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		scheduler: s,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		targets:   make(map[string]*utils.CircuitBreaker),
		fatal:     make(chan error, 1),
	}, nil
}

// Register schedules fn under name. Runs of the same job never overlap.
func (r *Refresher) Register(name string, fn RefetchFunc, opts ...utils.BreakerOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.targets[name]; dup {
		return fmt.Errorf("refresher: %q already registered", name)
	}

	breaker := utils.NewCircuitBreaker(name, opts...)
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(r.run, name, breaker, fn),
		gocron.WithName(fmt.Sprintf("%s-refetch", name)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create refetch job: %w", err)
	}
	r.targets[name] = breaker
	return nil
}

// Breaker returns the breaker guarding name.
func (r *Refresher) Breaker(name string) (*utils.CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.targets[name]
	return b, ok
}

func (r *Refresher) run(name string, breaker *utils.CircuitBreaker, fn RefetchFunc) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := breaker.Execute(ctx, fn)
	switch {
	case err == nil:
	case errors.Is(err, status.ErrSessionExpired), errors.Is(err, status.ErrNoCredential):
		slog.Info("refetch ended the session", "job", name, "error", err)
		select {
		case r.fatal <- fmt.Errorf("refetch %s: %w", name, err):
		default:
		}
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		slog.Debug("refetch skipped", "job", name, "reason", err)
	case errors.Is(err, status.ErrNoServiceSelected):
	case errors.Is(err, context.Canceled):
	default:
		slog.Warn("scheduled refetch failed", "job", name, "error", err)
	}
}

// Errors delivers a refetch failure that means the session is over, such
// as an expired refresh token. Only the first one is kept.
func (r *Refresher) Errors() <-chan error {
	return r.fatal
}

func (r *Refresher) Start() {
	slog.Info("starting refresher", "interval", r.interval)
	r.scheduler.Start()
}

// Stop cancels in-flight runs and shuts the scheduler down.
func (r *Refresher) Stop() error {
	slog.Info("stopping refresher")
	r.cancel()
	return r.scheduler.Shutdown()
}
