package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the device simulator.
type SimulatorMetrics struct {
	ReadingsSent    *prometheus.CounterVec
	SendFailures    *prometheus.CounterVec
	SendDuration    *prometheus.HistogramVec
	ActiveDevices   prometheus.Gauge
	PartialPayloads prometheus.Counter
}

// NewSimulatorMetrics creates and registers simulator metrics on reg
// (the process Registry when reg is nil).
func NewSimulatorMetrics(reg prometheus.Registerer) *SimulatorMetrics {
	m := &SimulatorMetrics{
		ReadingsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "readings_sent_total",
				Help:      "Total number of simulated readings delivered",
			},
			[]string{"transport"}, // transport: http, amqp
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "send_failures_total",
				Help:      "Total number of simulated readings that could not be delivered",
			},
			[]string{"transport", "reason"},
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "send_duration_seconds",
				Help:      "Duration of one reading delivery",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		ActiveDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "active_devices",
				Help:      "Number of simulated devices currently running",
			},
		),
		PartialPayloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "partial_payloads_total",
				Help:      "Total number of payloads sent with one or more fields omitted",
			},
		),
	}

	registerer(reg).MustRegister(
		m.ReadingsSent,
		m.SendFailures,
		m.SendDuration,
		m.ActiveDevices,
		m.PartialPayloads,
	)

	return m
}
