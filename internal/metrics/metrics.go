// Package metrics provides Prometheus metrics for the aulsmfs engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine and its admin service
// report.
type Metrics struct {
	// Admin gRPC request metrics.
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// LSM container metrics, one series per layer index (0=C0, 1=C1,
	// 2..9=C[0..7]).
	LsmLayerEntries *prometheus.GaugeVec
	LsmLayerBytes   *prometheus.GaugeVec

	// Compaction driver metrics.
	CompactionsTotal          *prometheus.CounterVec
	CompactionDurationSeconds *prometheus.HistogramVec

	// C-tree builder metrics.
	CtreeBuilderFlushesTotal prometheus.Counter
	CtreeBuilderPagesTotal   prometheus.Counter

	// Transaction log metrics.
	TxlogChunksWrittenTotal prometheus.Counter

	// Allocator metrics.
	AllocReservedPages  prometheus.Gauge
	AllocCommittedPages prometheus.Gauge

	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aulsmfs_admin_grpc_requests_total",
			Help: "Total number of admin gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aulsmfs_admin_grpc_request_duration_seconds",
			Help:    "Duration of admin gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aulsmfs_admin_grpc_requests_in_flight",
			Help: "Number of admin gRPC requests currently being processed",
		},
	)

	m.LsmLayerEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aulsmfs_lsm_layer_entries",
			Help: "Number of entries held by each LSM layer (-1 for on-disk layers, whose entry count isn't tracked without a scan)",
		},
		[]string{"layer"},
	)

	m.LsmLayerBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aulsmfs_lsm_layer_bytes",
			Help: "Bytes held by each LSM layer",
		},
		[]string{"layer"},
	)

	m.CompactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aulsmfs_compactions_total",
			Help: "Total number of compaction (merge) steps run, by target layer and outcome",
		},
		[]string{"target", "status"},
	)

	m.CompactionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aulsmfs_compaction_duration_seconds",
			Help:    "Duration of a single compaction step in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	m.CtreeBuilderFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aulsmfs_ctree_builder_flushes_total",
			Help: "Total number of node flushes performed by C-tree builders",
		},
	)

	m.CtreeBuilderPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aulsmfs_ctree_builder_pages_total",
			Help: "Total number of pages written by C-tree builders",
		},
	)

	m.TxlogChunksWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aulsmfs_txlog_chunks_written_total",
			Help: "Total number of transaction log chunks written",
		},
	)

	m.AllocReservedPages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aulsmfs_alloc_reserved_pages",
			Help: "Current number of pages reserved but not yet committed or cancelled",
		},
	)

	m.AllocCommittedPages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aulsmfs_alloc_committed_pages",
			Help: "Current number of committed, in-use pages",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aulsmfs_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordGrpcRequest records an admin gRPC request with its status.
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordCompaction records a completed compaction step.
func (m *Metrics) RecordCompaction(target int, status string, duration time.Duration) {
	label := layerLabel(target)
	m.CompactionsTotal.WithLabelValues(label, status).Inc()
	m.CompactionDurationSeconds.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCtreeBuilderFlush records one node flush and the pages it wrote.
func (m *Metrics) RecordCtreeBuilderFlush(pages int) {
	m.CtreeBuilderFlushesTotal.Inc()
	m.CtreeBuilderPagesTotal.Add(float64(pages))
}

// RecordTxlogChunkWritten records one transaction log chunk write.
func (m *Metrics) RecordTxlogChunkWritten() {
	m.TxlogChunksWrittenTotal.Inc()
}

// UpdateLayerStats sets the entries/bytes gauges for one LSM layer.
func (m *Metrics) UpdateLayerStats(layer int, entries int, bytes uint64) {
	label := layerLabel(layer)
	m.LsmLayerEntries.WithLabelValues(label).Set(float64(entries))
	m.LsmLayerBytes.WithLabelValues(label).Set(float64(bytes))
}

// UpdateAllocStats sets the allocator occupancy gauges.
func (m *Metrics) UpdateAllocStats(reservedPages, committedPages uint64) {
	m.AllocReservedPages.Set(float64(reservedPages))
	m.AllocCommittedPages.Set(float64(committedPages))
}

func layerLabel(layer int) string {
	switch layer {
	case 0:
		return "c0"
	case 1:
		return "c1"
	default:
		return "c[" + strconv.Itoa(layer-2) + "]"
	}
}
