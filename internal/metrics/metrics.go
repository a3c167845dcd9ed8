package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Download outcomes used as the "outcome" label.
const (
	OutcomeCached      = "cached"
	OutcomeNotFound    = "not_found"
	OutcomeFailed      = "failed"
	OutcomeWriteFailed = "write_failed"
	OutcomeStale       = "stale"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiles_cache_hits_total",
		Help: "Total number of tiles served from the disk cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiles_cache_misses_total",
		Help: "Total number of tiles that were not cached when rendered",
	})

	MemoryHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiles_memory_hits_total",
		Help: "Total number of cached tile reads served from memory",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_cache_bytes",
		Help: "Aggregate size of the on-disk tile cache in bytes",
	})

	CacheTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_cache_tiles",
		Help: "Number of tiles in the on-disk cache index",
	})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_downloads_total",
		Help: "Total number of finished tile downloads by outcome",
	}, []string{"outcome"})

	DownloadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiles_download_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_download_queue_length",
		Help: "Number of tiles waiting in the download queue",
	})

	Patches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_patches_total",
		Help: "Total number of placeholder images handed out, by kind",
	}, []string{"kind"})
)
