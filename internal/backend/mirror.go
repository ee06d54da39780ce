package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/domain"
)

// Mirror receives a copy of every stored reading. Mirrors are best effort:
// the ingestion path logs their errors and carries on.
type Mirror interface {
	Write(ctx context.Context, r Reading) error
	Close()
}

// InfluxConfig configures the InfluxDB mirror.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// DefaultInfluxMeasurement is used when InfluxConfig.Measurement is empty.
const DefaultInfluxMeasurement = "sensor_reading"

// InfluxMirror writes readings as points to an InfluxDB 2.x bucket.
type InfluxMirror struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// NewInfluxMirror connects to InfluxDB and checks its health.
func NewInfluxMirror(ctx context.Context, cfg *InfluxConfig, logger *slog.Logger) (*InfluxMirror, error) {
	if cfg == nil {
		return nil, errors.New("influx config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("influx URL cannot be empty")
	}
	if cfg.Org == "" {
		return nil, errors.New("influx org cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("influx bucket cannot be empty")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to influxdb: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("influxdb health check failed: %s", msg)
	}

	logger.Info("connected to influxdb", "url", cfg.URL, "bucket", cfg.Bucket)

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultInfluxMeasurement
	}

	return &InfluxMirror{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
	}, nil
}

// Write implements Mirror.
func (m *InfluxMirror) Write(ctx context.Context, r Reading) error {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid reading timestamp %q: %w", r.Timestamp, err)
	}

	point := influxdb2.NewPoint(
		m.measurement,
		map[string]string{},
		map[string]interface{}{
			"id":        int64(r.ID),
			"latitude":  r.Latitude,
			"longitude": r.Longitude,
			"flame":     r.Flame,
			"smoke":     r.Smoke,
			"distance":  r.Distance,
			"acc_x":     r.AccX,
			"acc_y":     r.AccY,
			"acc_z":     r.AccZ,
		},
		ts,
	)

	if err := m.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write point: %w", err)
	}
	return nil
}

// Close implements Mirror.
func (m *InfluxMirror) Close() {
	m.client.Close()
}

var _ Mirror = (*InfluxMirror)(nil)
