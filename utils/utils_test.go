package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailure = errors.New("failure")

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errFailure }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(5), cb.maxFailures)
	assert.Equal(t, uint32(100), cb.minRequests)
	assert.Equal(t, 60*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteCounts(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errFailure)

	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", WithMaxFailures(3), WithTimeout(time.Minute), WithBreakerClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errFailure)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func(context.Context) error {
		t.Fatal("request must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		trial func(context.Context) error
		want  State
	}{
		{name: "success closes", trial: succeed, want: StateClosed},
		{name: "failure reopens", trial: fail, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			cb := NewCircuitBreaker("test", WithMaxFailures(1), WithTimeout(time.Minute), WithBreakerClock(clock))
			ctx := context.Background()

			cb.Execute(ctx, fail)
			require.Equal(t, StateOpen, cb.State())

			clock.Advance(time.Minute)
			assert.Equal(t, StateHalfOpen, cb.State())

			cb.Execute(ctx, tt.trial)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestCircuitBreaker_HalfOpenAllowsOneTrial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithTimeout(time.Second), WithBreakerClock(clock))
	ctx := context.Background()

	cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancelledCallerIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test")
	ctx := context.Background()

	assert.Panics(t, func() {
		cb.Execute(ctx, func(context.Context) error {
			panic("test panic")
		})
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
	assert.NoError(t, cb.Execute(ctx, succeed))
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	tests := []struct {
		name        string
		requests    uint32
		failures    uint32
		consecutive uint32
		want        bool
	}{
		{name: "not enough requests", requests: 5, failures: 4, consecutive: 1, want: false},
		{name: "high failure ratio", requests: 10, failures: 8, consecutive: 1, want: true},
		{name: "low failure ratio", requests: 10, failures: 3, consecutive: 1, want: false},
		{name: "exact ratio threshold", requests: 10, failures: 6, consecutive: 1, want: true},
		{name: "consecutive failures", requests: 3, failures: 3, consecutive: 3, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker("trip-test", WithMaxFailures(3), WithFailureRatio(10, 0.6))
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures
			cb.counts.ConsecutiveFailures = tt.consecutive
			assert.Equal(t, tt.want, cb.readyToTrip())
		})
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test", WithMaxFailures(0))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			cb.Execute(ctx, func(context.Context) error {
				if id%10 == 0 {
					return errFailure
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	counts := cb.Counts()
	assert.Equal(t, uint32(50), counts.Requests)
	assert.Equal(t, uint32(5), counts.TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRedisHealthCheck(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectPing().SetVal("PONG")

		assert.NoError(t, RedisHealthCheck(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectPing().SetErr(errors.New("connection failed"))

		err := RedisHealthCheck(context.Background(), db)
		assert.ErrorContains(t, err, "redis health check failed")
		assert.ErrorContains(t, err, "connection failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInstanceID(t *testing.T) {
	a := InstanceID("user-7")
	b := InstanceID("user-7")

	assert.Regexp(t, `^user-7-[0-9A-F]{8}$`, a)
	assert.NotEqual(t, a, b)

	code, err := GenerateCode(3)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}

func BenchmarkCircuitBreaker_Execute(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, succeed)
	}
}
