package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/sensor-telemetry/pkg/generator"
	"procodus.dev/sensor-telemetry/pkg/metrics"
)

// Producer owns a handful of simulated boards and sends one reading per
// call from a randomly chosen board. A Producer is driven by one goroutine.
type Producer struct {
	transport  Transport
	devices    []*generator.Device
	generators []*generator.ReadingGenerator
	rng        *rand.Rand
	clock      func() time.Time
	metrics    *metrics.SimulatorMetrics
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Transport Transport

	// Devices is the number of boards; at least one.
	Devices int

	// PartialRate is the probability that a reading omits sensor fields.
	PartialRate float64

	// Seed makes readings reproducible; 0 seeds from the clock.
	Seed int64

	Clock   func() time.Time
	Metrics *metrics.SimulatorMetrics
}

// NewProducer creates the producer and its devices.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		return nil, errors.New("producer config cannot be nil")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if cfg.Devices <= 0 {
		return nil, errors.New("device count must be greater than 0")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 - simulation data

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	p := &Producer{
		transport: cfg.Transport,
		rng:       rng,
		clock:     clock,
		metrics:   cfg.Metrics,
	}

	for range cfg.Devices {
		device := generator.NewDevice()
		if device == nil {
			return nil, errors.New("failed to generate device")
		}
		p.devices = append(p.devices, device)
		p.generators = append(p.generators, generator.NewReadingGenerator(
			device,
			rand.New(rand.NewSource(rng.Int63())), // #nosec G404 - simulation data
			cfg.PartialRate,
		))
	}

	return p, nil
}

// Devices returns the simulated boards.
func (p *Producer) Devices() []*generator.Device {
	return p.devices
}

// SendReading generates one reading and delivers it through the transport.
func (p *Producer) SendReading(ctx context.Context) (generator.Sample, error) {
	transport := p.transport.Name()

	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.SendDuration.WithLabelValues(transport))
		defer timer.ObserveDuration()
	}

	i := p.rng.Intn(len(p.generators))
	sample := p.generators[i].Next(p.clock())

	if len(sample.Omitted()) > 0 && p.metrics != nil {
		p.metrics.PartialPayloads.Inc()
	}

	body, err := json.Marshal(sample)
	if err != nil {
		p.sendFailed("marshal_error")
		return sample, fmt.Errorf("failed to encode reading: %w", err)
	}

	if err := p.transport.Send(ctx, body); err != nil {
		p.sendFailed(failureReason(err))
		return sample, err
	}

	if p.metrics != nil {
		p.metrics.ReadingsSent.WithLabelValues(transport).Inc()
	}
	return sample, nil
}

func (p *Producer) sendFailed(reason string) {
	if p.metrics != nil {
		p.metrics.SendFailures.WithLabelValues(p.transport.Name(), reason).Inc()
	}
}

func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context_canceled"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("status_%d", statusErr.Code)
	default:
		return "send_error"
	}
}
