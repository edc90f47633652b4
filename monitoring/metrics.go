package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"smart-queue/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuectl_api_requests_total",
			Help: "REST requests by operation and response code",
		},
		[]string{"operation", "code"},
	)

	apiLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuectl_api_request_duration_seconds",
			Help:    "Duration of REST requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation"},
	)

	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuectl_token_refreshes_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	pushFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuectl_push_frames_total",
			Help: "Push frames received by transport and kind",
		},
		[]string{"transport", "kind"},
	)

	snapshotUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuectl_snapshot_updates_total",
			Help: "Queue snapshot updates by origin and outcome",
		},
		[]string{"origin", "result"},
	)

	snapshotVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuectl_snapshot_version",
			Help: "Sequence number of the applied queue snapshot",
		},
	)

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuectl_queue_length",
			Help: "Entries in the selected service's snapshot by status",
		},
		[]string{"service_id", "status"},
	)
)

// Refresh results.
const (
	RefreshOK      = "ok"
	RefreshFailed  = "failed"
	RefreshExpired = "expired"
)

// Snapshot outcomes.
const (
	SnapshotApplied = "applied"
	SnapshotStale   = "stale"
	SnapshotForeign = "foreign"
)

// MalformedFrame is the kind recorded for frames that fail to decode.
const MalformedFrame = "malformed"

func TrackRequest(operation string, code int, d time.Duration) {
	apiRequests.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	apiLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func TrackRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

func TrackPushFrame(transport, kind string) {
	pushFrames.WithLabelValues(transport, kind).Inc()
}

func TrackSnapshot(origin, result string) {
	snapshotUpdates.WithLabelValues(origin, result).Inc()
}

// SetSnapshot publishes the applied snapshot's version and per-status sizes.
func SetSnapshot(serviceID int64, version uint64, entries []models.QueueEntry) {
	snapshotVersion.Set(float64(version))

	counts := map[models.Status]int{
		models.StatusWaiting:    0,
		models.StatusInProgress: 0,
	}
	for _, e := range entries {
		counts[e.Status]++
	}
	id := strconv.FormatInt(serviceID, 10)
	for s, n := range counts {
		queueLength.WithLabelValues(id, string(s)).Set(float64(n))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
