package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sensor-telemetry/internal/backend"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored readings as CSV",
	Long: `Write every stored reading, newest first, in the same CSV format
served by GET /api/download_csv.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindFlags(cmd, dbFlagKeys); err != nil {
			return err
		}
		return bindFlags(cmd, map[string]string{"export.output": "output"})
	},
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	addDBFlags(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}

func runExport(_ *cobra.Command, _ []string) error {
	// stdout may carry the CSV.
	logger := newLogger(os.Stderr)

	db, err := backend.NewDB(dbConfig(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = backend.CloseDB(db, logger) }()

	store, err := backend.NewSQLStore(db, nil)
	if err != nil {
		return err
	}

	readings, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list readings: %w", err)
	}

	var out io.Writer = os.Stdout
	if path := viper.GetString("export.output"); path != "" {
		f, err := os.Create(path) // #nosec G304 - operator supplied path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if err := backend.WriteCSV(out, readings); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	logger.Info("exported readings", "count", len(readings))
	return nil
}
