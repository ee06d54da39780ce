package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/sensor-telemetry/pkg/metrics"
)

// StorageMode selects the sinks a reading is written to.
type StorageMode string

const (
	// StorageMemory keeps readings in process memory only.
	StorageMemory StorageMode = "memory"
	// StoragePersistent writes readings to the database.
	StoragePersistent StorageMode = "persistent"
	// StorageHybrid writes to the database and the recent-reading cache.
	StorageHybrid StorageMode = "hybrid"
)

// ParseStorageMode validates a mode name, case-insensitively.
func ParseStorageMode(s string) (StorageMode, error) {
	switch mode := StorageMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case StorageMemory, StoragePersistent, StorageHybrid:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown storage mode %q (want memory, persistent or hybrid)", s)
	}
}

// Ingestion sources, used as metric labels.
const (
	SourceHTTP = "http"
	SourceAMQP = "amqp"
)

// ErrStore is returned by Ingest when the reading could not be persisted.
var ErrStore = errors.New("failed to store reading")

// IngestorConfig holds the dependencies of an Ingestor.
type IngestorConfig struct {
	Logger *slog.Logger
	Store  ReadingStore

	// Cache and Mirror are optional.
	Cache  RecentCache
	Mirror Mirror

	// Clock defaults to time.Now.
	Clock   func() time.Time
	Metrics *metrics.TelemetryMetrics
}

// Ingestor stamps payloads and writes them to the configured sinks.
type Ingestor struct {
	logger  *slog.Logger
	store   ReadingStore
	cache   RecentCache
	mirror  Mirror
	clock   func() time.Time
	metrics *metrics.TelemetryMetrics
}

// NewIngestor creates a new Ingestor instance.
func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	if cfg == nil {
		return nil, errors.New("ingestor config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Ingestor{
		logger:  cfg.Logger,
		store:   cfg.Store,
		cache:   cfg.Cache,
		mirror:  cfg.Mirror,
		clock:   clock,
		metrics: cfg.Metrics,
	}, nil
}

// Ingest stamps p with the current server time and persists it.
//
// The store write comes first so that the cached copy carries its id. If it
// fails nothing else is touched and the returned error wraps ErrStore. Cache
// and mirror failures are logged but do not fail the call.
func (i *Ingestor) Ingest(ctx context.Context, source string, p *Payload) (Reading, error) {
	reading := p.Stamp(i.clock().UTC().Format(time.RFC3339Nano))

	if defaulted := p.Defaulted(); len(defaulted) > 0 {
		i.logger.Debug("sensor fields defaulted to zero", "source", source, "fields", defaulted)
		if i.metrics != nil {
			for _, field := range defaulted {
				i.metrics.DefaultedFields.WithLabelValues(field).Inc()
			}
		}
	}

	// Store before cache: the cached copy needs the id the store assigns.
	if err := i.store.Insert(ctx, &reading); err != nil {
		i.countError(source, "store")
		return Reading{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if i.cache != nil {
		if err := i.cache.Push(ctx, reading); err != nil {
			i.countError(source, "cache")
			i.logger.Warn("failed to cache reading", "id", reading.ID, "error", err)
		}
	}

	if i.mirror != nil {
		status := "success"
		if err := i.mirror.Write(ctx, reading); err != nil {
			status = "error"
			i.logger.Warn("failed to mirror reading", "id", reading.ID, "error", err)
		}
		if i.metrics != nil {
			i.metrics.MirrorWrites.WithLabelValues(status).Inc()
		}
	}

	if i.metrics != nil {
		i.metrics.ReadingsIngested.WithLabelValues(source).Inc()
	}

	i.logger.Debug("reading stored", "source", source, "id", reading.ID, "timestamp", reading.Timestamp)
	return reading, nil
}

// Rejected records a payload that never reached Ingest.
func (i *Ingestor) Rejected(source, reason string) {
	i.countError(source, reason)
}

func (i *Ingestor) countError(source, reason string) {
	if i.metrics != nil {
		i.metrics.IngestErrors.WithLabelValues(source, reason).Inc()
	}
}
