package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvTelemetryEnabled toggles telemetry emission.
	EnvTelemetryEnabled = "DECKD_TELEMETRY_ENABLED"
	// EnvTelemetryEndpoint sets the collector endpoint base URL.
	EnvTelemetryEndpoint = "DECKD_TELEMETRY_ENDPOINT"
	// EnvTelemetryQueueCapacity sets in-memory queue capacity.
	EnvTelemetryQueueCapacity = "DECKD_TELEMETRY_QUEUE_CAPACITY"
	// EnvTelemetryExportTimeoutMS sets export timeout in milliseconds.
	EnvTelemetryExportTimeoutMS = "DECKD_TELEMETRY_EXPORT_TIMEOUT_MS"
)

// RuntimeConfig captures env-configured telemetry settings.
type RuntimeConfig struct {
	Enabled         bool
	Endpoint        string
	QueueCapacity   int
	ExportTimeoutMS int
}

// RuntimeConfigFromEnv parses telemetry config from environment.
func RuntimeConfigFromEnv() (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		Enabled:         true,
		Endpoint:        strings.TrimSpace(os.Getenv(EnvTelemetryEndpoint)),
		QueueCapacity:   256,
		ExportTimeoutMS: 200,
	}

	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("%s parse error: %w", EnvTelemetryEnabled, err)
		}
		cfg.Enabled = enabled
	}
	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryQueueCapacity)); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return RuntimeConfig{}, fmt.Errorf("%s must be integer >=1", EnvTelemetryQueueCapacity)
		}
		cfg.QueueCapacity = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryExportTimeoutMS)); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return RuntimeConfig{}, fmt.Errorf("%s must be integer >=1", EnvTelemetryExportTimeoutMS)
		}
		cfg.ExportTimeoutMS = v
	}

	return cfg, nil
}

// NewPipelineFromEnv creates a telemetry pipeline from environment settings.
// A nil pipeline with nil error means telemetry is disabled.
func NewPipelineFromEnv() (*Pipeline, error) {
	cfg, err := RuntimeConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	sink := Sink(discardSink{})
	if cfg.Endpoint != "" {
		httpSink, err := NewHTTPSink(HTTPSinkConfig{
			Endpoint: cfg.Endpoint,
			Client:   &http.Client{Timeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond},
		})
		if err != nil {
			return nil, err
		}
		sink = httpSink
	}

	return NewPipeline(sink, Config{
		QueueCapacity: cfg.QueueCapacity,
		ExportTimeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond,
	}), nil
}
