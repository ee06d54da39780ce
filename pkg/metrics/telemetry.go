package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TelemetryMetrics covers the ingestion path and its sinks.
type TelemetryMetrics struct {
	ReadingsIngested *prometheus.CounterVec
	IngestErrors     *prometheus.CounterVec
	StoreOperations  *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
	CacheSize        prometheus.Gauge
	CacheEvictions   prometheus.Counter
	MirrorWrites     *prometheus.CounterVec
	DefaultedFields  *prometheus.CounterVec
}

// NewTelemetryMetrics creates and registers ingestion metrics on reg
// (the process Registry when reg is nil).
func NewTelemetryMetrics(reg prometheus.Registerer) *TelemetryMetrics {
	m := &TelemetryMetrics{
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "readings_total",
				Help:      "Total number of readings accepted",
			},
			[]string{"source"}, // source: http, amqp
		),
		IngestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "errors_total",
				Help:      "Total number of rejected or failed ingestions",
			},
			[]string{"source", "reason"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "status"}, // operation: insert, list
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of readings held by the recent-reading cache",
			},
		),
		CacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of readings evicted from the recent-reading cache",
			},
		),
		MirrorWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mirror",
				Name:      "writes_total",
				Help:      "Total number of readings copied to the time-series mirror",
			},
			[]string{"status"},
		),
		DefaultedFields: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "defaulted_fields_total",
				Help:      "Sensor fields that were absent or unparseable and stored as zero",
			},
			[]string{"field"},
		),
	}

	registerer(reg).MustRegister(
		m.ReadingsIngested,
		m.IngestErrors,
		m.StoreOperations,
		m.StoreDuration,
		m.CacheSize,
		m.CacheEvictions,
		m.MirrorWrites,
		m.DefaultedFields,
	)

	return m
}
