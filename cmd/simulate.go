package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sensor-telemetry/internal/simulator"
	"procodus.dev/sensor-telemetry/pkg/metrics"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated ESP32 boards",
	Long: `Run a fleet of simulated ESP32 boards that:
- Generate GPS, flame, smoke, distance and accelerometer readings
- Occasionally omit fields to exercise server-side defaults
- Deliver readings over HTTP (POST /api/data) or RabbitMQ
- Support multiple concurrent producers`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, map[string]string{
			"simulate.transport":       "transport",
			"simulate.backend_url":     "backend-url",
			"simulate.http_timeout":    "http-timeout",
			"simulate.http_retries":    "http-retries",
			"simulate.rabbitmq.url":    "rabbitmq-url",
			"simulate.rabbitmq.queue":  "queue-name",
			"simulate.producer_count":  "producer-count",
			"simulate.devices":         "devices",
			"simulate.interval":        "interval",
			"simulate.partial_rate":    "partial-rate",
			"simulate.readings":        "readings",
			"simulate.seed":            "seed",
			"simulate.metrics_address": "metrics-address",
		})
	},
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("transport", simulator.TransportHTTP, "delivery transport (http, amqp)")
	simulateCmd.Flags().String("backend-url", "http://localhost:5000", "backend base URL for the http transport")
	simulateCmd.Flags().Duration("http-timeout", 5*time.Second, "HTTP request timeout")
	simulateCmd.Flags().Int("http-retries", 2, "retries for failed HTTP requests")
	simulateCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL for the amqp transport")
	simulateCmd.Flags().String("queue-name", "sensor-readings", "RabbitMQ queue name for sensor readings")
	simulateCmd.Flags().Int("producer-count", 1, "number of concurrent producers")
	simulateCmd.Flags().Int("devices", 1, "simulated boards per producer")
	simulateCmd.Flags().Duration("interval", 5*time.Second, "interval between readings of each producer")
	simulateCmd.Flags().Float64("partial-rate", 0.1, "share of readings sent with missing fields")
	simulateCmd.Flags().Int("readings", 0, "stop each producer after this many readings (0 runs until interrupted)")
	simulateCmd.Flags().Int64("seed", 0, "random seed (0 seeds from the clock)")
	simulateCmd.Flags().String("metrics-address", "", "serve Prometheus metrics on this address when set, e.g. :9100")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator")

	config := &simulator.ServerConfig{
		Logger:             logger,
		TransportName:      viper.GetString("simulate.transport"),
		BackendURL:         viper.GetString("simulate.backend_url"),
		HTTPTimeout:        viper.GetDuration("simulate.http_timeout"),
		HTTPRetries:        viper.GetInt("simulate.http_retries"),
		RabbitMQURL:        viper.GetString("simulate.rabbitmq.url"),
		QueueName:          viper.GetString("simulate.rabbitmq.queue"),
		ProducerCount:      viper.GetInt("simulate.producer_count"),
		DevicesPerProducer: viper.GetInt("simulate.devices"),
		Interval:           viper.GetDuration("simulate.interval"),
		PartialRate:        viper.GetFloat64("simulate.partial_rate"),
		Readings:           viper.GetInt("simulate.readings"),
		Seed:               viper.GetInt64("simulate.seed"),
		Metrics:            metrics.NewSimulatorMetrics(nil),
		MQMetrics:          metrics.NewMQMetrics(nil),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"transport", config.TransportName,
		"backend_url", config.BackendURL,
		"producer_count", config.ProducerCount,
		"devices_per_producer", config.DevicesPerProducer,
		"interval", config.Interval,
		"partial_rate", config.PartialRate,
		"readings", config.Readings,
	)

	if addr := viper.GetString("simulate.metrics_address"); addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "address", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
