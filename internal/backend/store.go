package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"procodus.dev/sensor-telemetry/pkg/metrics"
)

// ReadingStore is the append-only log of every accepted reading.
type ReadingStore interface {
	// Insert appends r and sets r.ID to the id the store assigned.
	Insert(ctx context.Context, r *Reading) error

	// List returns every reading, newest (highest id) first. An empty store
	// yields an empty, non-nil slice.
	List(ctx context.Context) ([]Reading, error)

	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
}

// SQLStore keeps readings in a relational database through gorm.
type SQLStore struct {
	db      *gorm.DB
	metrics *metrics.TelemetryMetrics
}

// NewSQLStore wraps an open connection pool. m may be nil.
func NewSQLStore(db *gorm.DB, m *metrics.TelemetryMetrics) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &SQLStore{db: db, metrics: m}, nil
}

// Insert implements ReadingStore.
func (s *SQLStore) Insert(ctx context.Context, r *Reading) error {
	if r.ID != 0 {
		return fmt.Errorf("reading already has id %d", r.ID)
	}

	done := s.observe("insert")
	err := s.db.WithContext(ctx).Create(r).Error
	done(err)

	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// List implements ReadingStore.
func (s *SQLStore) List(ctx context.Context) ([]Reading, error) {
	readings := make([]Reading, 0)

	done := s.observe("list")
	err := s.db.WithContext(ctx).Order("id DESC").Find(&readings).Error
	done(err)

	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	return readings, nil
}

// Ping implements ReadingStore.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) observe(operation string) func(error) {
	if s.metrics == nil {
		return func(error) {}
	}

	timer := prometheus.NewTimer(s.metrics.StoreDuration.WithLabelValues(operation))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.StoreOperations.WithLabelValues(operation, status).Inc()
	}
}

// MemoryStore is a process-lifetime ReadingStore. It never evicts.
type MemoryStore struct {
	mu       sync.Mutex
	readings []Reading
	nextID   uint
}

// NewMemoryStore returns an empty store whose first id is 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Insert implements ReadingStore.
func (s *MemoryStore) Insert(_ context.Context, r *Reading) error {
	if r.ID != 0 {
		return fmt.Errorf("reading already has id %d", r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.nextID
	s.nextID++
	s.readings = append(s.readings, *r)
	return nil
}

// List implements ReadingStore.
func (s *MemoryStore) List(_ context.Context) ([]Reading, error) {
	s.mu.Lock()
	out := slices.Clone(s.readings)
	s.mu.Unlock()

	if out == nil {
		out = make([]Reading, 0)
	}
	slices.Reverse(out)
	return out, nil
}

// Ping implements ReadingStore.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

var (
	_ ReadingStore = (*SQLStore)(nil)
	_ ReadingStore = (*MemoryStore)(nil)
)
