// Package mq provides end-to-end tests for the RabbitMQ client.
package mq

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sensor-telemetry/pkg/metrics"
	clientmq "procodus.dev/sensor-telemetry/pkg/mq"
)

var _ = Describe("MQ Client E2E", func() {
	var (
		client    *clientmq.Client
		queueName string
		m         *metrics.MQMetrics
	)

	newClient := func(url string) *clientmq.Client {
		c, err := clientmq.New(clientmq.Config{
			Logger:  testLogger,
			URL:     url,
			Queue:   queueName,
			Durable: true,
			Metrics: m,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	receive := func(deliveries <-chan amqp.Delivery) amqp.Delivery {
		var d amqp.Delivery
		Eventually(deliveries, 5*time.Second).Should(Receive(&d))
		return d
	}

	BeforeEach(func() {
		queueName = "readings-" + time.Now().Format("20060102-150405.000")
		m = metrics.NewMQMetrics(prometheus.NewRegistry())
		client = newClient(rabbitmqURL)
		Eventually(client.Ready, 10*time.Second).Should(BeTrue())
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Close()
			client = nil
		}
	})

	Describe("Connection", func() {
		It("should report the connection as up", func() {
			Expect(client.Queue()).To(Equal(queueName))
			Expect(testutil.ToFloat64(m.ConnectionStatus)).To(Equal(1.0))
		})
	})

	Describe("Publishing", func() {
		It("should publish with broker confirmation", func() {
			Expect(client.Publish(context.Background(), []byte(`{"flame":4095}`))).To(Succeed())
			Expect(testutil.ToFloat64(m.MessagesPublished.WithLabelValues(queueName))).To(Equal(1.0))
		})

		It("should publish unconfirmed without blocking", func() {
			Expect(client.PublishUnconfirmed(context.Background(), []byte(`{}`))).To(Succeed())
		})

		It("should handle rapid successive publishes", func() {
			for range 20 {
				Expect(client.Publish(context.Background(), []byte(`{"smoke":300}`))).To(Succeed())
			}
		})
	})

	Describe("Publish and Consume", func() {
		It("should deliver bodies unchanged", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			body := []byte(`{"latitude":52.52,"longitude":13.405,"acc_z":9.81}`)
			Expect(client.Publish(context.Background(), body)).To(Succeed())

			d := receive(deliveries)
			Expect(d.Body).To(Equal(body))
			Expect(d.ContentType).To(Equal("application/json"))
			Expect(d.DeliveryMode).To(Equal(amqp.Persistent))
			Expect(d.Ack(false)).To(Succeed())
		})

		It("should deliver messages in order with prefetch of one", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			for _, msg := range []string{"first", "second", "third"} {
				Expect(client.Publish(context.Background(), []byte(msg))).To(Succeed())
			}

			var received []string
			for range 3 {
				d := receive(deliveries)
				received = append(received, string(d.Body))
				Expect(d.Ack(false)).To(Succeed())
			}
			Expect(received).To(Equal([]string{"first", "second", "third"}))
		})

		It("should redeliver nacked messages", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Publish(context.Background(), []byte("retry me"))).To(Succeed())

			first := receive(deliveries)
			Expect(first.Nack(false, true)).To(Succeed())

			second := receive(deliveries)
			Expect(second.Body).To(Equal([]byte("retry me")))
			Expect(second.Redelivered).To(BeTrue())
			Expect(second.Ack(false)).To(Succeed())
		})

		It("should keep durable messages for a later consumer", func() {
			Expect(client.Publish(context.Background(), []byte("queued"))).To(Succeed())
			Expect(client.Close()).To(Succeed())

			client = newClient(rabbitmqURL)
			Eventually(client.Ready, 10*time.Second).Should(BeTrue())

			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())
			d := receive(deliveries)
			Expect(d.Body).To(Equal([]byte("queued")))
			Expect(d.Ack(false)).To(Succeed())
		})
	})

	Describe("Resource Cleanup", func() {
		It("should close cleanly and reject a second close", func() {
			Expect(client.Close()).To(Succeed())
			Expect(client.Close()).To(HaveOccurred())
			Expect(testutil.ToFloat64(m.ConnectionStatus)).To(Equal(0.0))
			client = nil
		})
	})
})
