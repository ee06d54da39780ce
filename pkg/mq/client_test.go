package mq_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/sensor-telemetry/pkg/logger"
	"procodus.dev/sensor-telemetry/pkg/metrics"
	"procodus.dev/sensor-telemetry/pkg/mq"
	"procodus.dev/sensor-telemetry/pkg/mq/mock"
)

var _ = Describe("MQ Client", func() {
	newClient := func() *mq.Client {
		client, err := mq.New(mq.Config{
			Logger: logger.Discard(),
			URL:    "amqp://invalid:5672",
			Queue:  "readings-test",
		})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	Describe("New", func() {
		DescribeTable("should validate configuration",
			func(cfg mq.Config, substr string) {
				client, err := mq.New(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(substr))
				Expect(client).To(BeNil())
			},
			Entry("nil logger", mq.Config{URL: "amqp://localhost:5672", Queue: "q"}, "logger"),
			Entry("empty URL", mq.Config{Logger: logger.Discard(), Queue: "q"}, "rabbitmq URL"),
			Entry("empty queue", mq.Config{Logger: logger.Discard(), URL: "amqp://localhost:5672"}, "queue name"),
		)

		It("should create a client bound to the queue", func() {
			client := newClient()
			defer func() { _ = client.Close() }()

			Expect(client.Queue()).To(Equal("readings-test"))
		})
	})

	Context("when the broker is unreachable", func() {
		var client *mq.Client

		BeforeEach(func() {
			client = newClient()
			time.Sleep(100 * time.Millisecond)
		})

		AfterEach(func() {
			_ = client.Close()
		})

		It("should not report ready", func() {
			Expect(client.Ready()).To(BeFalse())
		})

		It("should fail unconfirmed publishes immediately", func() {
			err := client.PublishUnconfirmed(context.Background(), []byte(`{}`))
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})

		It("should fail Consume", func() {
			_, err := client.Consume()
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})

		It("should stop retrying Publish when the context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			start := time.Now()
			err := client.Publish(ctx, []byte(`{}`))

			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
		})

		It("should give up Publish after the retry budget", func() {
			start := time.Now()
			err := client.Publish(context.Background(), []byte(`{}`))

			Expect(err).To(MatchError(ContainSubstring("maximum retry attempts exceeded")))
			// 100ms + 200ms + 400ms + 800ms + 1600ms of backoff.
			Expect(time.Since(start)).To(BeNumerically(">=", 3*time.Second))
			Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))
		})
	})

	Describe("Close", func() {
		It("should succeed once and then report already closed", func() {
			client := newClient()
			time.Sleep(50 * time.Millisecond)

			Expect(client.Close()).To(Succeed())
			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
		})

		It("should be safe to call concurrently", func() {
			client := newClient()
			done := make(chan struct{}, 3)

			for range 3 {
				go func() {
					defer GinkgoRecover()
					_ = client.Close()
					done <- struct{}{}
				}()
			}

			for range 3 {
				Eventually(done).Should(Receive())
			}
		})

		It("should make Publish return once the client is shut down", func() {
			client := newClient()
			time.Sleep(50 * time.Millisecond)

			errs := make(chan error, 1)
			go func() {
				errs <- client.Publish(context.Background(), []byte(`{}`))
			}()

			time.Sleep(150 * time.Millisecond)
			Expect(client.Close()).To(Succeed())
			Eventually(errs, 2*time.Second).Should(Receive(MatchError(ContainSubstring("shutting down"))))
		})
	})

	Describe("Metrics", func() {
		It("should count failed publishes", func() {
			m := metrics.NewMQMetrics(prometheus.NewRegistry())
			client, err := mq.New(mq.Config{
				Logger:  logger.Discard(),
				URL:     "amqp://invalid:5672",
				Queue:   "metered",
				Metrics: m,
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
			defer cancel()
			_ = client.Publish(ctx, []byte(`{}`))

			Expect(testutil.ToFloat64(m.PublishFailures.WithLabelValues("metered", "context_canceled"))).To(Equal(1.0))
			Eventually(func() float64 {
				return testutil.ToFloat64(m.ReconnectAttempts)
			}).Should(BeNumerically(">=", 1))
		})
	})
})

var _ = Describe("MockClient", func() {
	It("should record published bodies", func() {
		client := mock.NewMockClient()

		Expect(client.Publish(context.Background(), []byte("a"))).To(Succeed())
		Expect(client.Publish(context.Background(), []byte("b"))).To(Succeed())

		Expect(client.PublishedCount()).To(Equal(2))
		Expect(client.LastPublished()).To(Equal([]byte("b")))
	})

	It("should return the configured publish error", func() {
		client := mock.NewMockClient()
		client.PublishError = context.Canceled

		Expect(client.Publish(context.Background(), nil)).To(MatchError(context.Canceled))
	})

	It("should report readiness", func() {
		client := mock.NewMockClient()
		Expect(client.Ready()).To(BeTrue())

		client.NotReady = true
		Expect(client.Ready()).To(BeFalse())
	})
})
