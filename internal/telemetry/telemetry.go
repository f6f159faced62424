// Package telemetry publishes Prometheus gauges for ops visibility: a
// /metrics endpoint alongside the health endpoint, modeled on a
// StartMetricsServer pattern.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/controller"
	"kinesis-shard-autoscaler/internal/report"
)

// Registry exposes per-stream gauges for current shard count and last
// decision, plus a count of engines with a captured fatal error. No
// cool-off gauge is published. The distilled spec's Non-goals exclude
// metrics only as a *scaling input*, not as ops visibility.
type Registry struct {
	registry     *prometheus.Registry
	shardCount   *prometheus.GaugeVec
	lastDecision *prometheus.GaugeVec
	fatalEngines prometheus.Gauge
}

var decisionValue = map[report.Direction]float64{
	report.DirectionDown: -1,
	report.DirectionNone: 0,
	report.DirectionUp:   1,
}

// NewRegistry builds and registers the gauges.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		shardCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoscaler_open_shard_count",
			Help: "Open shard count at the end of the stream's most recent scaling report.",
		}, []string{"stream"}),
		lastDecision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoscaler_last_decision",
			Help: "Most recent scaling decision per stream: -1 DOWN, 0 NONE, 1 UP.",
		}, []string{"stream"}),
		fatalEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoscaler_fatal_engine_count",
			Help: "Number of engines that have captured a fatal setup error.",
		}),
	}
	reg.MustRegister(r.shardCount, r.lastDecision, r.fatalEngines)
	return r
}

// Collect snapshots a controller's latest per-stream reports and
// failure count into the gauges.
func (r *Registry) Collect(c *controller.Controller) {
	for stream, rep := range c.Reports() {
		r.shardCount.WithLabelValues(stream).Set(float64(rep.EndShardCount))
		r.lastDecision.WithLabelValues(stream).Set(decisionValue[rep.Direction])
	}
	r.fatalEngines.Set(float64(len(c.Failures())))
}

// Handler returns the /metrics http.Handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StartServer exposes the /metrics endpoint on addr. It returns the
// underlying http.Server so callers may manage its lifecycle.
func StartServer(addr string, reg *Registry, log *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

// Shutdown gracefully stops the metrics server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
