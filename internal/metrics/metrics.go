// Package metrics holds the process-wide Prometheus collectors of the decode
// pipeline. They register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pixel buffer pool metrics
var (
	PoolAcquiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framesrc_pool_acquired_total",
			Help: "Total number of pixel buffers checked out of the pool",
		},
	)

	PoolReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framesrc_pool_released_total",
			Help: "Total number of pixel buffers returned to the pool",
		},
	)

	PoolAllocatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framesrc_pool_allocated_total",
			Help: "Total number of pixel buffers allocated because no free buffer matched",
		},
	)

	PoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framesrc_pool_in_flight",
			Help: "Number of pixel buffers currently on loan",
		},
	)
)

// Decode metrics
var (
	FramesDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framesrc_frames_decoded_total",
			Help: "Total number of frames emitted by sources",
		},
		[]string{"track"}, // "video", "audio"
	)

	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framesrc_decode_failures_total",
			Help: "Total number of packets a decoder produced no frame for",
		},
		[]string{"codec"},
	)

	WarmupFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framesrc_warmup_frames_total",
			Help: "Total number of frames decoded and discarded while seeking",
		},
	)

	CaptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framesrc_captions_total",
			Help: "Total number of caption updates extracted from video",
		},
		[]string{"channel"},
	)
)
