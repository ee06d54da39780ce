package backend

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/sensor-telemetry/internal/backend"
)

type ingestResponse struct {
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Received backend.Reading `json:"received"`
}

func post(body string) ingestResponse {
	var out ingestResponse
	resp, err := api.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/api/data")
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.StatusCode()).To(Equal(http.StatusOK), resp.String())
	return out
}

func readingLog() []backend.Reading {
	var out []backend.Reading
	resp, err := api.R().SetResult(&out).Get("/api/log")
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.StatusCode()).To(Equal(http.StatusOK))
	return out
}

var _ = Describe("Backend HTTP API E2E", func() {
	It("should report liveness and health", func() {
		resp, err := api.R().Get("/")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.String()).To(Equal(backend.IndexMessage))

		resp, err = api.R().Get("/health")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(resp.String()).To(ContainSubstring(`"ok"`))
	})

	It("should store a reading in PostgreSQL and cache it in Redis", func() {
		before := time.Now().UTC()
		out := post(`{"latitude":52.52,"longitude":13.405,"flame":4012,"smoke":310,"distance":42.5,"acc_x":0.01,"acc_y":-0.02,"acc_z":9.81}`)

		Expect(out.Status).To(Equal("success"))
		Expect(out.Message).To(Equal("Data received!"))
		Expect(out.Received.ID).NotTo(BeZero())
		Expect(out.Received.Latitude).To(Equal(52.52))
		Expect(out.Received.AccZ).To(Equal(9.81))

		stamped, err := time.Parse(time.RFC3339Nano, out.Received.Timestamp)
		Expect(err).NotTo(HaveOccurred())
		Expect(stamped).To(BeTemporally(">=", before.Add(-time.Second)))

		Expect(readingLog()[0]).To(Equal(out.Received))

		var latest backend.Reading
		resp, err := api.R().SetResult(&latest).Get("/api/latest")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(latest).To(Equal(out.Received))
	})

	It("should default missing fields and ignore a client timestamp", func() {
		out := post(`{"flame":"512","timestamp":"1999-01-01T00:00:00Z","id":99999}`)

		Expect(out.Received.Flame).To(Equal(512.0))
		Expect(out.Received.Smoke).To(BeZero())
		Expect(out.Received.Latitude).To(BeZero())
		Expect(out.Received.Timestamp).NotTo(HavePrefix("1999"))
		Expect(out.Received.ID).NotTo(Equal(uint(99999)))
	})

	It("should reject malformed bodies without storing them", func() {
		count := len(readingLog())

		resp, err := api.R().SetHeader("Content-Type", "application/json").SetBody(`{"flame":`).Post("/api/data")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest))
		Expect(resp.String()).To(ContainSubstring(`"status":"error"`))

		Expect(readingLog()).To(HaveLen(count))
	})

	It("should list readings newest first", func() {
		a := post(`{"distance":1}`)
		b := post(`{"distance":2}`)

		log := readingLog()
		Expect(log[0].ID).To(Equal(b.Received.ID))
		Expect(log[1].ID).To(Equal(a.Received.ID))
		for i := 1; i < len(log); i++ {
			Expect(log[i-1].ID).To(BeNumerically(">", log[i].ID))
		}
	})

	It("should export the log as CSV", func() {
		post(`{"smoke":1234}`)

		resp, err := api.R().Get("/api/download_csv")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(resp.Header().Get("Content-Type")).To(HavePrefix("text/csv"))
		Expect(resp.Header().Get("Content-Disposition")).To(ContainSubstring(backend.CSVFilename))

		rows, err := csv.NewReader(strings.NewReader(resp.String())).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows[0]).To(Equal(backend.CSVHeader))
		Expect(rows).To(HaveLen(len(readingLog()) + 1))
		Expect(rows[1][5]).To(Equal("1234"))
	})

	It("should keep only the most recent readings in the Redis cache", func() {
		var last ingestResponse
		for range backend.DefaultCacheCapacity + 5 {
			last = post(`{"acc_z":9.8}`)
		}

		var latest backend.Reading
		_, err := api.R().SetResult(&latest).Get("/api/latest")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(last.Received.ID))
	})

	It("should expose Prometheus metrics", func() {
		post(`{}`)

		resp, err := api.R().Get("/metrics")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.String()).To(ContainSubstring("sensor_telemetry_ingest_readings_total"))
	})

	It("should find the Redis cache warm after a restart in hybrid mode", func() {
		var last ingestResponse
		for range backend.DefaultCacheCapacity + 1 {
			last = post(`{"flame":7}`)
		}

		restarted, err := backend.NewServer(&backend.ServerConfig{
			Logger:       testLogger,
			Port:         0,
			Mode:         backend.StorageHybrid,
			DB:           dbConfig(),
			CacheBackend: backend.CacheBackendRedis,
			RedisAddr:    redisAddr,
			Registry:     prometheus.NewRegistry(),
		})
		Expect(err).NotTo(HaveOccurred())

		cancel, done := startServer(restarted)
		defer func() {
			cancel()
			Eventually(done, 10*time.Second).Should(BeClosed())
		}()

		client := resty.New().SetBaseURL("http://" + restarted.Addr())

		resp, err := client.R().Get("/metrics")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.String()).To(ContainSubstring(
			fmt.Sprintf("sensor_telemetry_cache_entries %d", backend.DefaultCacheCapacity)))

		var latest backend.Reading
		_, err = client.R().SetResult(&latest).Get("/api/latest")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(last.Received.ID))
	})

	It("should serve the same rows after a restart in persistent mode", func() {
		want := readingLog()

		restarted, err := backend.NewServer(&backend.ServerConfig{
			Logger:   testLogger,
			Port:     0,
			Mode:     backend.StoragePersistent,
			DB:       dbConfig(),
			Registry: prometheus.NewRegistry(),
		})
		Expect(err).NotTo(HaveOccurred())

		cancel, done := startServer(restarted)
		defer func() {
			cancel()
			Eventually(done, 10*time.Second).Should(BeClosed())
		}()

		client := resty.New().SetBaseURL("http://" + restarted.Addr())

		var got []backend.Reading
		_, err = client.R().SetResult(&got).Get("/api/log")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))

		resp, err := client.R().Get("/api/latest")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))
	})
})
