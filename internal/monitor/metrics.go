package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bissquit/sentinel/internal/domain"
)

const namespace = "sentinel"

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "probes_total",
			Help:      "Total probes by outcome",
		},
		[]string{"healthy", "classification"},
	)

	probeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "probe_duration_seconds",
			Help:      "Probe round trip time",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	cycleServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_services",
			Help:      "Services probed in the last cycle",
		},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one full probe cycle",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	openIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "open_incidents",
			Help:      "Incidents currently in a non-terminal state",
		},
	)
)

func recordProbe(result *domain.ProbeResult) {
	healthy := "false"
	if result.Healthy {
		healthy = "true"
	}
	class := string(result.Class)
	if class == "" {
		class = "none"
	}
	probesTotal.WithLabelValues(healthy, class).Inc()
	probeDuration.Observe(result.ResponseTimeMS / 1000)
}

func observeCycle(services int, elapsed time.Duration) {
	cycleServices.Set(float64(services))
	cycleDuration.Observe(elapsed.Seconds())
}

func setOpenIncidents(n int) {
	openIncidents.Set(float64(n))
}
