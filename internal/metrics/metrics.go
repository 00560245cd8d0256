// Package metrics holds the prometheus instrumentation for replwatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	NodesPolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replwatch_nodes_polled_total",
		Help: "Total node snapshot fetches attempted",
	})

	PollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replwatch_poll_failures_total",
		Help: "Node snapshot fetches that failed after retry",
	})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replwatch_poll_duration_seconds",
		Help:    "Per-node snapshot fetch duration including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	IssuesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replwatch_issues_detected_total",
		Help: "Issues detected by category",
	}, []string{"category"})

	HealingActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replwatch_healing_actions_total",
		Help: "Healing actions by terminal outcome",
	}, []string{"outcome"})

	CacheSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replwatch_cache_skips_total",
		Help: "Nodes skipped because the delta cache marked them recently healthy",
	})
)

// Serve exposes /metrics on addr for the lifetime of the process. Listener
// failures are logged, never fatal: metrics are best-effort.
func Serve(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
}
