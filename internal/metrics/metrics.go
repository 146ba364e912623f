package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solar-mqtt-bridge/internal/logger"
)

// Metrics holds the Prometheus instruments shared by the bridge daemons.
type Metrics struct {
	FramesTotal      prometheus.Counter
	DecodeErrors     prometheus.Counter
	RejectedFrames   prometheus.Counter
	BusErrors        prometheus.Counter
	PublishesTotal   prometheus.Counter
	PublishesDropped prometheus.Counter
	BridgeOnline     prometheus.Gauge
}

// New registers and returns the bridge metrics. The bridge label keeps the
// three daemons apart when they share a Prometheus scrape job.
func New(bridge string) *Metrics {
	labels := prometheus.Labels{"bridge": bridge}
	m := &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_frames_total",
			Help:        "Valid bus frames or register reads processed",
			ConstLabels: labels,
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_decode_errors_total",
			Help:        "Frames dropped for bad length or checksum",
			ConstLabels: labels,
		}),
		RejectedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_rejected_frames_total",
			Help:        "Frames rejected by sanity windows",
			ConstLabels: labels,
		}),
		BusErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_bus_errors_total",
			Help:        "Bus I/O errors forcing a reopen",
			ConstLabels: labels,
		}),
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_mqtt_publishes_total",
			Help:        "MQTT state publishes performed",
			ConstLabels: labels,
		}),
		PublishesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bridge_mqtt_publishes_suppressed_total",
			Help:        "Publishes suppressed by rate limit or hysteresis",
			ConstLabels: labels,
		}),
		BridgeOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "bridge_online",
			Help:        "1 while the bus is delivering fresh data",
			ConstLabels: labels,
		}),
	}

	prometheus.MustRegister(
		m.FramesTotal,
		m.DecodeErrors,
		m.RejectedFrames,
		m.BusErrors,
		m.PublishesTotal,
		m.PublishesDropped,
		m.BridgeOnline,
	)
	return m
}

// Serve exposes /metrics on addr. No-op when addr is empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.LogStartup("Prometheus metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.LogError("Metrics listener failed: %v", err)
		}
	}()
}
