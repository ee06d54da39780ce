package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/sensor-telemetry/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	var reg *prometheus.Registry

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
	})

	Describe("constructors", func() {
		It("should register every collector set on one registry", func() {
			metrics.NewHTTPMetrics(reg)
			metrics.NewTelemetryMetrics(reg)
			metrics.NewMQMetrics(reg)
			metrics.NewSimulatorMetrics(reg)

			Expect(func() { metrics.NewTelemetryMetrics(reg) }).To(Panic())
		})

		It("should prefix metric names with the namespace", func() {
			m := metrics.NewTelemetryMetrics(reg)
			m.ReadingsIngested.WithLabelValues("http").Inc()
			m.CacheSize.Set(3)

			count, err := testutil.GatherAndCount(reg,
				"sensor_telemetry_ingest_readings_total",
				"sensor_telemetry_cache_entries",
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
		})
	})

	Describe("HTTPMetrics.Instrument", func() {
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		})

		It("should return the handler unchanged on a nil receiver", func() {
			var m *metrics.HTTPMetrics
			h := m.Instrument("/api/data", handler)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/data", nil))
			Expect(rec.Code).To(Equal(http.StatusCreated))
		})

		It("should count requests by route, method and code", func() {
			m := metrics.NewHTTPMetrics(reg)
			h := m.Instrument("/api/data", handler)

			for range 2 {
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/data", nil))
			}

			Expect(testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/data", "post", "201"))).To(Equal(2.0))
			Expect(testutil.ToFloat64(m.RequestsInFlight.WithLabelValues("/api/data"))).To(BeZero())
		})
	})

	Describe("HandlerFor", func() {
		It("should expose the gathered metrics", func() {
			m := metrics.NewSimulatorMetrics(reg)
			m.ReadingsSent.WithLabelValues("http").Add(5)

			rec := httptest.NewRecorder()
			metrics.HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			body, err := io.ReadAll(rec.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`sensor_telemetry_simulator_readings_sent_total{transport="http"} 5`))
		})

		It("should include runtime collectors on the process registry", func() {
			rec := httptest.NewRecorder()
			metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
		})
	})
})
