// Package metrics registers the agent's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_frames_decoded_total",
		Help: "Total number of frame decode attempts, by result",
	}, []string{"result"})

	FrameDecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framewise_frame_decode_duration_seconds",
		Help:    "Time spent decoding a single frame",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	FrameCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framewise_frame_cache_hits_total",
		Help: "Seeks served from the last-frame cache",
	})

	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_reviews_total",
		Help: "Review file operations, by operation and result",
	}, []string{"op", "result"})

	MarkupsAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_markups_added_total",
		Help: "Markups added to frames, by type",
	}, []string{"type"})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_jobs_processed_total",
		Help: "Library jobs processed, by type and status",
	}, []string{"type", "status"})

	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_exports_total",
		Help: "Exports written, by format",
	}, []string{"format"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
