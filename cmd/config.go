package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sensor-telemetry/internal/backend"
	"procodus.dev/sensor-telemetry/pkg/logger"
)

const defaultPort = 5000

// InitConfig initializes Viper configuration.
// Sources, lowest precedence first: defaults, config.yaml, .env, environment, flags.
func InitConfig(cfgFile string) error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sensor-telemetry/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SENSOR_TELEMETRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Hosting platforms hand out the listen port as a bare PORT.
	if err := viper.BindEnv("server.port", "SENSOR_TELEMETRY_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("failed to bind PORT: %w", err)
	}
	viper.SetDefault("server.port", defaultPort)

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger writing to stdout based on configuration.
func GetLogger() *slog.Logger {
	return newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	return logger.New(&logger.Config{
		Output: w,
		Level:  logger.ParseLevel(viper.GetString("log.level")),
		Format: logger.ParseFormat(viper.GetString("log.format")),
	})
}

// bindFlags binds viper keys to the flags of the command being run. Binding
// at run time lets several commands share keys such as db.path.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind %s flag: %w", flag, err)
		}
	}
	return nil
}

var dbFlagKeys = map[string]string{
	"db.driver":   "db-driver",
	"db.path":     "db-path",
	"db.host":     "db-host",
	"db.port":     "db-port",
	"db.user":     "db-user",
	"db.password": "db-password",
	"db.name":     "db-name",
	"db.sslmode":  "db-sslmode",
}

func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-driver", backend.DriverSQLite, "database driver (sqlite, postgres)")
	cmd.Flags().String("db-path", "sensor_data.db", "SQLite database file")
	cmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	cmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	cmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	cmd.Flags().String("db-password", "", "PostgreSQL password")
	cmd.Flags().String("db-name", "telemetry", "PostgreSQL database name")
	cmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
}

func dbConfig(log *slog.Logger) *backend.DBConfig {
	return &backend.DBConfig{
		Logger:   log,
		Driver:   viper.GetString("db.driver"),
		Path:     viper.GetString("db.path"),
		Host:     viper.GetString("db.host"),
		Port:     viper.GetInt("db.port"),
		User:     viper.GetString("db.user"),
		Password: viper.GetString("db.password"),
		DBName:   viper.GetString("db.name"),
		SSLMode:  viper.GetString("db.sslmode"),
	}
}
