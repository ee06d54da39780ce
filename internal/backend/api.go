package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"procodus.dev/sensor-telemetry/pkg/metrics"
)

const (
	// IndexMessage is the liveness text served on "/".
	IndexMessage = "ESP32 telemetry backend is running!"

	// CSVFilename names the file offered by /api/download_csv.
	CSVFilename = "historical_data.csv"

	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
)

// APIConfig holds the dependencies of the HTTP API.
type APIConfig struct {
	Logger   *slog.Logger
	Ingestor *Ingestor
	Store    ReadingStore

	// Cache enables GET /api/latest when set.
	Cache RecentCache

	// Metrics is optional.
	Metrics *metrics.HTTPMetrics
}

// API serves the ingestion and query endpoints.
type API struct {
	logger   *slog.Logger
	ingestor *Ingestor
	store    ReadingStore
	cache    RecentCache
	metrics  *metrics.HTTPMetrics
}

// IngestResponse is the body returned by POST /api/data.
type IngestResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Received *Reading `json:"received,omitempty"`
}

// NewAPI creates a new API instance.
func NewAPI(cfg *APIConfig) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	return &API{
		logger:   cfg.Logger,
		ingestor: cfg.Ingestor,
		store:    cfg.Store,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
	}, nil
}

// Register adds the API routes to r.
func (a *API) Register(r *mux.Router) {
	a.handle(r, "/", a.handleIndex, http.MethodGet)
	a.handle(r, "/health", a.handleHealth, http.MethodGet)

	a.handle(r, "/api/data", a.handleIngest, http.MethodPost)
	a.handle(r, "/api/log", a.handleLog, http.MethodGet)
	a.handle(r, "/api/download_csv", a.handleDownloadCSV, http.MethodGet)

	if a.cache != nil {
		a.handle(r, "/api/latest", a.handleLatest, http.MethodGet)
	}
}

// Handler returns a router with every API route.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

func (a *API) handle(r *mux.Router, path string, h http.HandlerFunc, method string) {
	r.Handle(path, a.metrics.Instrument(path, h)).Methods(method)
}

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, IndexMessage); err != nil {
		a.logger.Error("failed to write index response", "error", err)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", "error", err)
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.ingestor.Rejected(SourceHTTP, "read")
		a.writeJSON(w, http.StatusBadRequest, IngestResponse{Status: "error", Message: "failed to read request body"})
		return
	}

	payload, err := DecodePayload(body)
	if err != nil {
		a.ingestor.Rejected(SourceHTTP, "malformed")
		a.logger.Debug("rejected payload", "error", err)
		a.writeJSON(w, http.StatusBadRequest, IngestResponse{Status: "error", Message: err.Error()})
		return
	}

	reading, err := a.ingestor.Ingest(r.Context(), SourceHTTP, payload)
	if err != nil {
		a.logger.Error("failed to ingest reading", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, IngestResponse{Status: "error", Message: ErrStore.Error()})
		return
	}

	a.writeJSON(w, http.StatusOK, IngestResponse{
		Status:   "success",
		Message:  "Data received!",
		Received: &reading,
	})
}

func (a *API) handleLog(w http.ResponseWriter, r *http.Request) {
	readings, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error("failed to list readings", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to load readings"})
		return
	}
	a.writeJSON(w, http.StatusOK, readings)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok, err := a.cache.Latest(r.Context())
	if err != nil {
		a.logger.Error("failed to read cache", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to load latest reading"})
		return
	}
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"message": "No data found"})
		return
	}
	a.writeJSON(w, http.StatusOK, reading)
}

func (a *API) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	readings, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error("failed to list readings", "error", err)
		http.Error(w, "failed to load readings", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, readings); err != nil {
		a.logger.Error("failed to encode csv", "error", err)
		http.Error(w, "failed to encode readings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+CSVFilename)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.logger.Error("failed to write csv response", "error", err)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}
