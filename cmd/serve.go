package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sensor-telemetry/internal/backend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry backend",
	Long: `Run the telemetry backend that:
- Accepts ESP32 readings on POST /api/data and stamps them with the server time
- Stores readings in memory, SQLite/PostgreSQL, or the database plus a recent-reading cache
- Serves the log as JSON and CSV, and the latest reading in hybrid mode
- Optionally consumes readings from RabbitMQ and mirrors them to InfluxDB`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindFlags(cmd, dbFlagKeys); err != nil {
			return err
		}
		return bindFlags(cmd, serveFlagKeys)
	},
	RunE: runServe,
}

var serveFlagKeys = map[string]string{
	"server.port":        "port",
	"storage.mode":       "mode",
	"cache.backend":      "cache-backend",
	"cache.capacity":     "cache-capacity",
	"redis.addr":         "redis-addr",
	"redis.password":     "redis-password",
	"redis.db":           "redis-db",
	"redis.key":          "redis-key",
	"influx.url":         "influx-url",
	"influx.token":       "influx-token",
	"influx.org":         "influx-org",
	"influx.bucket":      "influx-bucket",
	"influx.measurement": "influx-measurement",
	"cors.origins":       "cors-origins",
	"rabbitmq.url":       "rabbitmq-url",
	"rabbitmq.queue":     "queue-name",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", defaultPort, "HTTP listen port (also read from PORT)")
	serveCmd.Flags().String("mode", string(backend.StorageHybrid), "storage mode (memory, persistent, hybrid)")
	addDBFlags(serveCmd)

	serveCmd.Flags().String("cache-backend", backend.CacheBackendMemory, "recent-reading cache backend in hybrid mode (memory, redis)")
	serveCmd.Flags().Int("cache-capacity", backend.DefaultCacheCapacity, "number of recent readings kept in the cache")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for the redis cache backend")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Int("redis-db", 0, "Redis database number")
	serveCmd.Flags().String("redis-key", backend.DefaultRedisKey, "Redis list key holding recent readings")

	serveCmd.Flags().String("influx-url", "", "InfluxDB URL; enables the time-series mirror when set")
	serveCmd.Flags().String("influx-token", "", "InfluxDB API token")
	serveCmd.Flags().String("influx-org", "", "InfluxDB organization")
	serveCmd.Flags().String("influx-bucket", "", "InfluxDB bucket")
	serveCmd.Flags().String("influx-measurement", backend.DefaultInfluxMeasurement, "InfluxDB measurement name")

	serveCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins; empty allows all")

	serveCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL; enables queue ingestion when set")
	serveCmd.Flags().String("queue-name", "sensor-readings", "RabbitMQ queue name for sensor readings")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting telemetry backend")

	mode, err := backend.ParseStorageMode(viper.GetString("storage.mode"))
	if err != nil {
		return err
	}

	config := &backend.ServerConfig{
		Logger:         logger,
		Port:           viper.GetInt("server.port"),
		Mode:           mode,
		CacheBackend:   viper.GetString("cache.backend"),
		CacheCapacity:  viper.GetInt("cache.capacity"),
		RedisAddr:      viper.GetString("redis.addr"),
		RedisPassword:  viper.GetString("redis.password"),
		RedisDB:        viper.GetInt("redis.db"),
		RedisKey:       viper.GetString("redis.key"),
		AllowedOrigins: viper.GetStringSlice("cors.origins"),
		RabbitMQURL:    viper.GetString("rabbitmq.url"),
		QueueName:      viper.GetString("rabbitmq.queue"),
	}
	if mode != backend.StorageMemory {
		config.DB = dbConfig(logger)
	}
	if url := viper.GetString("influx.url"); url != "" {
		config.Influx = &backend.InfluxConfig{
			URL:         url,
			Token:       viper.GetString("influx.token"),
			Org:         viper.GetString("influx.org"),
			Bucket:      viper.GetString("influx.bucket"),
			Measurement: viper.GetString("influx.measurement"),
		}
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"port", config.Port,
		"mode", config.Mode,
		"db_driver", viper.GetString("db.driver"),
		"cache_backend", config.CacheBackend,
		"cors_origins", config.AllowedOrigins,
		"rabbitmq_enabled", config.RabbitMQURL != "",
		"influx_enabled", config.Influx != nil,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
