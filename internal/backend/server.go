package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"procodus.dev/sensor-telemetry/pkg/metrics"
	"procodus.dev/sensor-telemetry/pkg/mq"
)

// Server wires storage, cache and transports together and serves the HTTP API.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	db         *gorm.DB
	redis      *redis.Client
	mirror     Mirror
	consumer   *Consumer
	httpServer *http.Server

	mu   sync.Mutex
	addr string
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP listen port. 0 picks a free port; see Addr.
	Port int

	Mode StorageMode

	// DB is required for the persistent and hybrid modes.
	DB *DBConfig

	// Cache settings, used in hybrid mode.
	CacheBackend  string
	CacheCapacity int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	// Influx enables the time-series mirror when non-nil.
	Influx *InfluxConfig

	// AllowedOrigins is the CORS allow-list; empty allows every origin.
	AllowedOrigins []string

	// RabbitMQURL enables queue ingestion from QueueName when set.
	RabbitMQURL string
	QueueName   string

	// Registry receives the server metrics and backs GET /metrics.
	// nil uses the process-wide metrics.Registry.
	Registry *prometheus.Registry

	// Clock stamps readings; defaults to time.Now.
	Clock func() time.Time
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.New("HTTP port must be between 0 and 65535")
	}

	if _, err := ParseStorageMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	if cfg.Mode != StorageMemory && cfg.DB == nil {
		return nil, fmt.Errorf("database config cannot be nil in %s mode", cfg.Mode)
	}

	if cfg.Mode == StorageHybrid {
		switch cfg.CacheBackend {
		case "", CacheBackendMemory:
		case CacheBackendRedis:
			if cfg.RedisAddr == "" {
				return nil, errors.New("redis address cannot be empty")
			}
		default:
			return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
		}
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Addr returns the address the HTTP server is listening on, or "" before
// Run has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server", "mode", s.config.Mode)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	handler, err := s.setup(ctx)
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.config.Port)))
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.addr = lis.Addr().String()
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", lis.Addr().String())

	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

// setup builds every component and returns the root HTTP handler.
func (s *Server) setup(ctx context.Context) (http.Handler, error) {
	var reg prometheus.Registerer = metrics.Registry
	metricsHandler := metrics.Handler()
	if s.config.Registry != nil {
		reg = s.config.Registry
		metricsHandler = metrics.HandlerFor(s.config.Registry)
	}

	telemetry := metrics.NewTelemetryMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	store, err := s.newStore(telemetry)
	if err != nil {
		return nil, err
	}

	var cache RecentCache
	if s.config.Mode == StorageHybrid {
		if cache, err = s.newCache(ctx, telemetry); err != nil {
			return nil, err
		}
		s.reportCache(ctx, cache, telemetry)
	}

	if s.config.Influx != nil {
		mirror, err := NewInfluxMirror(ctx, s.config.Influx, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize influx mirror: %w", err)
		}
		s.mirror = mirror
	}

	ingestor, err := NewIngestor(&IngestorConfig{
		Logger:  s.logger,
		Store:   store,
		Cache:   cache,
		Mirror:  s.mirror,
		Clock:   s.config.Clock,
		Metrics: telemetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingestor: %w", err)
	}

	if s.config.RabbitMQURL != "" {
		if err := s.startConsumer(ctx, ingestor, reg); err != nil {
			return nil, err
		}
	}

	api, err := NewAPI(&APIConfig{
		Logger:   s.logger,
		Ingestor: ingestor,
		Store:    store,
		Cache:    cache,
		Metrics:  httpMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize api: %w", err)
	}

	router := mux.NewRouter()
	api.Register(router)
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	return newCORS(s.config.AllowedOrigins).Handler(withRequestLogging(s.logger, router)), nil
}

func (s *Server) newStore(telemetry *metrics.TelemetryMetrics) (ReadingStore, error) {
	if s.config.Mode == StorageMemory {
		s.logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	}

	dbCfg := *s.config.DB
	dbCfg.Logger = s.logger

	db, err := NewDB(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.logger.Info("database initialized successfully")
	return NewSQLStore(db, telemetry)
}

func (s *Server) newCache(ctx context.Context, telemetry *metrics.TelemetryMetrics) (RecentCache, error) {
	if s.config.CacheBackend != CacheBackendRedis {
		return NewRingCache(s.config.CacheCapacity, telemetry), nil
	}

	client, err := NewRedisClient(ctx, s.config.RedisAddr, s.config.RedisPassword, s.config.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
	}
	s.redis = client

	s.logger.Info("using redis cache", "addr", s.config.RedisAddr)
	return NewRedisCache(client, s.config.RedisKey, s.config.CacheCapacity, telemetry)
}

// reportCache records how many readings the cache already holds. A Redis
// list outlives the process, so a restarted server starts warm.
func (s *Server) reportCache(ctx context.Context, cache RecentCache, telemetry *metrics.TelemetryMetrics) {
	entries, err := cache.Entries(ctx)
	if err != nil {
		s.logger.Warn("failed to inspect recent cache", "error", err)
		return
	}

	telemetry.CacheSize.Set(float64(len(entries)))
	s.logger.Info("recent cache ready", "entries", len(entries))
}

func (s *Server) startConsumer(ctx context.Context, ingestor *Ingestor, reg prometheus.Registerer) error {
	mqMetrics := metrics.NewMQMetrics(reg)

	client, err := mq.New(mq.Config{
		Logger:  s.logger,
		URL:     s.config.RabbitMQURL,
		Queue:   s.config.QueueName,
		Durable: true,
		Metrics: mqMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mq client: %w", err)
	}

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:   s.logger,
		Client:   client,
		Ingestor: ingestor,
		Queue:    s.config.QueueName,
		Metrics:  mqMetrics,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	s.consumer = consumer

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
		s.consumer = nil
	}

	if s.mirror != nil {
		s.mirror.Close()
		s.mirror = nil
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("failed to close redis client", "error", err)
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
		s.redis = nil
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
		s.db = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
