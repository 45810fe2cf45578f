package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	LineFetches   *prometheus.CounterVec // outcome label: ok|empty|transport|envelope|shape|skipped
	FetchDuration prometheus.Histogram

	VehiclesDropped *prometheus.CounterVec // field label

	Passes       prometheus.Counter
	PassDuration prometheus.Histogram
	LastPass     prometheus.Gauge // unix seconds

	SnapshotLines      prometheus.Gauge
	SnapshotVehicles   prometheus.Gauge
	SnapshotFailed     prometheus.Gauge
	SnapshotIncomplete prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	ProbedLines   prometheus.Gauge
	RatePerSecond prometheus.Gauge
	Concurrency   prometheus.Gauge
}

func NewCollector(probedLines, concurrency int, ratePerSecond float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		LineFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siri_line_fetches_total",
			Help: "Line probes by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siri_line_fetch_duration_seconds",
			Help:    "Duration of one upstream line request including decoding.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		VehiclesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siri_vehicles_dropped_total",
			Help: "Vehicle activities dropped during normalization, by missing field.",
		}, []string{"field"}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siri_snapshot_passes_total",
			Help: "Total aggregation passes run.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siri_snapshot_pass_duration_seconds",
			Help:    "Wall time of one aggregation pass over all lines.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		LastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_snapshot_last_pass_timestamp_seconds",
			Help: "Unix time the last pass completed.",
		}),
		SnapshotLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_snapshot_lines",
			Help: "Lines in the latest snapshot.",
		}),
		SnapshotVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_snapshot_vehicles",
			Help: "Vehicles in the latest snapshot.",
		}),
		SnapshotFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_snapshot_failed_lines",
			Help: "Lines that failed in the latest pass.",
		}),
		SnapshotIncomplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_snapshot_incomplete_lines",
			Help: "Lines not finished before the pass deadline in the latest pass.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siri_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siri_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		ProbedLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_probed_lines",
			Help: "Number of line identifiers probed per pass.",
		}),
		RatePerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_poll_rate_per_second",
			Help: "Configured aggregate upstream request rate.",
		}),
		Concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siri_poll_concurrency",
			Help: "Configured number of concurrent line fetches.",
		}),
	}

	reg.MustRegister(
		c.LineFetches, c.FetchDuration, c.VehiclesDropped,
		c.Passes, c.PassDuration, c.LastPass,
		c.SnapshotLines, c.SnapshotVehicles, c.SnapshotFailed, c.SnapshotIncomplete,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.ProbedLines, c.RatePerSecond, c.Concurrency,
	)

	c.ProbedLines.Set(float64(probedLines))
	c.Concurrency.Set(float64(concurrency))
	c.RatePerSecond.Set(ratePerSecond)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}

// ObserveFetch records one line probe.
func (c *Collector) ObserveFetch(outcome string, d time.Duration) {
	c.LineFetches.WithLabelValues(outcome).Inc()
	c.FetchDuration.Observe(d.Seconds())
}

// ObserveDropped records a vehicle dropped for lacking field.
func (c *Collector) ObserveDropped(field string) {
	c.VehiclesDropped.WithLabelValues(field).Inc()
}

// ObservePassTotals records the outcome of one aggregation pass.
func (c *Collector) ObservePassTotals(lines, vehicles, failed, incomplete int, d time.Duration, completed time.Time) {
	c.Passes.Inc()
	c.PassDuration.Observe(d.Seconds())
	c.LastPass.Set(float64(completed.Unix()))
	c.SnapshotLines.Set(float64(lines))
	c.SnapshotVehicles.Set(float64(vehicles))
	c.SnapshotFailed.Set(float64(failed))
	c.SnapshotIncomplete.Set(float64(incomplete))
}
