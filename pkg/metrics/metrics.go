package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for FramesDropped
const (
	ReasonMalformed    = "malformed"
	ReasonNonMonotonic = "non_monotonic"
	ReasonQueueFull    = "queue_full"
)

var (
	// Frame ingest
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_frames_total",
			Help: "Detector frames received",
		},
		[]string{"camera"},
	)

	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_frames_dropped_total",
			Help: "Detector frames rejected before reaching the tracker",
		},
		[]string{"camera", "reason"},
	)

	// Session boundaries
	EntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_entries_total",
			Help: "Confirmed session entries",
		},
		[]string{"camera"},
	)

	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_exits_total",
			Help: "Confirmed session exits; forced exits come from shutdown flush",
		},
		[]string{"camera", "forced"},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_session_duration_seconds",
			Help:    "Length of completed presence sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"camera"},
	)

	Active = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_active",
			Help: "1 while a confirmed session is open for the camera",
		},
		[]string{"camera"},
	)
)

func init() {
	prometheus.MustRegister(
		FramesTotal,
		FramesDropped,
		EntriesTotal,
		ExitsTotal,
		SessionDuration,
		Active,
	)
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
