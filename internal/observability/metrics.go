package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	AlertsEmitted        *prometheus.CounterVec
	FramesProcessed      prometheus.Counter
	AudioChunksProcessed prometheus.Counter
	DetectorErrors       *prometheus.CounterVec
	WatcherClients       prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active exam monitoring sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		AlertsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Violation alerts emitted by kind.",
		}, []string{"kind"}),
		FramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Camera frames accepted and analyzed.",
		}),
		AudioChunksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_processed_total",
			Help:      "Audio chunks accepted and analyzed.",
		}),
		DetectorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_errors_total",
			Help:      "Upstream detector failures by detector.",
		}, []string{"detector"}),
		WatcherClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_clients",
			Help:      "Connected live alert stream clients.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
