// Package metrics provides Prometheus metrics for mvstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mvstore's admin /metrics endpoint.
type Metrics struct {
	// gRPC request metrics (internal/admin health surface)
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Commit metrics
	CommitsTotal    *prometheus.CounterVec
	CommitDuration  prometheus.Histogram
	CommitPageCount prometheus.Histogram

	// Chunk / page I/O metrics
	ChunkWritesTotal prometheus.Counter
	ChunkDropsTotal  prometheus.Counter
	PageReadsTotal   prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Housekeeping metrics
	HousekeepingCyclesTotal    *prometheus.CounterVec
	HousekeepingCycleDuration  prometheus.Histogram
	HousekeepingChunksMoved    prometheus.Counter
	HousekeepingChunksRewritten prometheus.Counter

	// Store size / fragmentation gauges
	StoreSizeBytes     prometheus.Gauge
	StoreFillRate      prometheus.Gauge
	StoreMapCount      prometheus.Gauge
	StoreCurrentVersion prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mvstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvstore_commits_total",
			Help: "Total number of store commits, by outcome",
		},
		[]string{"status"},
	)

	m.CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mvstore_commit_duration_seconds",
			Help:    "Duration of store commits in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.CommitPageCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mvstore_commit_page_count",
			Help:    "Number of pages written per commit",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	m.ChunkWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_chunk_writes_total",
			Help: "Total number of chunks written",
		},
	)

	m.ChunkDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_chunk_drops_total",
			Help: "Total number of chunks dropped by housekeeping",
		},
	)

	m.PageReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_page_reads_total",
			Help: "Total number of page reads from the backing file",
		},
	)

	m.CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	m.CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	m.HousekeepingCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvstore_housekeeping_cycles_total",
			Help: "Total number of housekeeping cycles, by outcome",
		},
		[]string{"status"},
	)

	m.HousekeepingCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mvstore_housekeeping_cycle_duration_seconds",
			Help:    "Duration of housekeeping cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.HousekeepingChunksMoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_housekeeping_chunks_moved_total",
			Help: "Total number of chunks physically moved by housekeeping",
		},
	)

	m.HousekeepingChunksRewritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvstore_housekeeping_chunks_rewritten_total",
			Help: "Total number of chunks rewritten by housekeeping",
		},
	)

	m.StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_store_size_bytes",
			Help: "Current backing file size in bytes",
		},
	)

	m.StoreFillRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_store_fill_rate",
			Help: "Fraction of allocated blocks currently in use",
		},
	)

	m.StoreMapCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_store_map_count",
			Help: "Number of maps currently open",
		},
	)

	m.StoreCurrentVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_store_current_version",
			Help: "Version number of the most recently completed commit",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordCommit records a completed commit, successful or failed.
func (m *Metrics) RecordCommit(status string, pageCount int, duration time.Duration) {
	m.CommitsTotal.WithLabelValues(status).Inc()
	m.CommitDuration.Observe(duration.Seconds())
	m.CommitPageCount.Observe(float64(pageCount))
}

// RecordHousekeepingCycle records a completed housekeeping cycle.
func (m *Metrics) RecordHousekeepingCycle(status string, chunksMoved, chunksRewritten int, duration time.Duration) {
	m.HousekeepingCyclesTotal.WithLabelValues(status).Inc()
	m.HousekeepingCycleDuration.Observe(duration.Seconds())
	m.HousekeepingChunksMoved.Add(float64(chunksMoved))
	m.HousekeepingChunksRewritten.Add(float64(chunksRewritten))
}

// UpdateStoreStats updates the store size/fragmentation gauges.
func (m *Metrics) UpdateStoreStats(sizeBytes int64, fillRate float64, mapCount int, version int64) {
	m.StoreSizeBytes.Set(float64(sizeBytes))
	m.StoreFillRate.Set(fillRate)
	m.StoreMapCount.Set(float64(mapCount))
	m.StoreCurrentVersion.Set(float64(version))
}
