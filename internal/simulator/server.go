package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/sensor-telemetry/pkg/metrics"
	"procodus.dev/sensor-telemetry/pkg/mq"
)

// ServerConfig holds the configuration for the simulator.
type ServerConfig struct {
	Logger *slog.Logger

	// TransportName selects TransportHTTP (default) or TransportAMQP.
	TransportName string

	// BackendURL is the ingestion backend base URL for the HTTP transport.
	BackendURL  string
	HTTPTimeout time.Duration
	HTTPRetries int

	// RabbitMQURL and QueueName configure the AMQP transport.
	RabbitMQURL string
	QueueName   string

	// Interval is the time between readings of each producer.
	Interval time.Duration

	// ProducerCount is the number of concurrent producers.
	ProducerCount int

	// DevicesPerProducer is the number of boards each producer simulates.
	DevicesPerProducer int

	// PartialRate is the share of payloads that omit fields.
	PartialRate float64

	// Readings stops each producer after this many attempts; 0 runs forever.
	Readings int

	// Seed makes the fleet reproducible; 0 seeds from the clock.
	Seed int64

	// Transport replaces the transport built from TransportName, shared by
	// every producer.
	Transport Transport

	Metrics   *metrics.SimulatorMetrics
	MQMetrics *metrics.MQMetrics
}

// Server runs a fleet of producers.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	producers  []*Producer
	transports []Transport
	wg         sync.WaitGroup
	closeOnce  sync.Once
	metrics    *metrics.SimulatorMetrics
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
)

// NewServer creates the producers and their transports.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Readings < 0 {
		return nil, errors.New("readings must not be negative")
	}

	devices := cfg.DevicesPerProducer
	if devices <= 0 {
		devices = 1
	}

	s := &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}

	for i := range cfg.ProducerCount {
		transport, err := s.transportFor(i)
		if err != nil {
			s.closeTransports()
			return nil, err
		}

		seed := cfg.Seed
		if seed != 0 {
			seed += int64(i)
		}

		producer, err := NewProducer(&ProducerConfig{
			Transport:   transport,
			Devices:     devices,
			PartialRate: cfg.PartialRate,
			Seed:        seed,
			Metrics:     cfg.Metrics,
		})
		if err != nil {
			s.closeTransports()
			return nil, fmt.Errorf("failed to create producer %d: %w", i, err)
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"transport", transport.Name(),
			"device_count", len(producer.Devices()),
		)
	}

	return s, nil
}

// transportFor returns the transport of producer i. The HTTP client is shared;
// each AMQP producer gets its own connection.
func (s *Server) transportFor(i int) (Transport, error) {
	if s.config.Transport != nil {
		if i == 0 {
			s.transports = append(s.transports, s.config.Transport)
		}
		return s.config.Transport, nil
	}

	switch s.config.TransportName {
	case "", TransportHTTP:
		if len(s.transports) > 0 {
			return s.transports[0], nil
		}
		timeout := s.config.HTTPTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		t, err := NewHTTPTransport(s.config.BackendURL, timeout, s.config.HTTPRetries)
		if err != nil {
			return nil, err
		}
		s.transports = append(s.transports, t)
		return t, nil

	case TransportAMQP:
		client, err := mq.New(mq.Config{
			Logger: s.logger.With(
				slog.String("component", "mq-client"),
				slog.Int("producer_id", i),
			),
			URL:     s.config.RabbitMQURL,
			Queue:   s.config.QueueName,
			Durable: true,
			Metrics: s.config.MQMetrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create mq client: %w", err)
		}
		t, err := NewMQTransport(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.transports = append(s.transports, t)
		return t, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", s.config.TransportName)
	}
}

// Run starts all producers and blocks until a shutdown signal, ctx
// cancellation, or every producer reaching its reading limit.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, producer)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	s.logger.Info("simulator started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	case <-finished:
		s.logger.Info("all producers reached their reading limit")
	}
	cancel()

	s.logger.Info("waiting for producers to shut down...")
	<-finished

	s.closeTransports()

	s.logger.Info("simulator stopped")
	return nil
}

func (s *Server) runProducer(ctx context.Context, id int, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveDevices.Add(float64(len(producer.Devices())))
		defer s.metrics.ActiveDevices.Sub(float64(len(producer.Devices())))
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.Int("producer_id", id))
	log.Info("producer started")

	for sent := 0; s.config.Readings == 0 || sent < s.config.Readings; sent++ {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return
		case <-ticker.C:
		}

		sample, err := producer.SendReading(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Keep going; the backend may come back.
			log.Error("failed to send reading", "device", sample.Device, "error", err)
			continue
		}

		log.Debug("reading sent", "device", sample.Device, "omitted", sample.Omitted())
	}

	log.Info("producer finished", "readings", s.config.Readings)
}

func (s *Server) closeTransports() {
	s.closeOnce.Do(func() {
		for i, t := range s.transports {
			if err := t.Close(); err != nil {
				s.logger.Error("failed to close transport", "transport_id", i, "error", err)
			}
		}
	})
}

// Shutdown closes every transport. Run does this itself on exit.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")
	s.closeTransports()
	return nil
}
