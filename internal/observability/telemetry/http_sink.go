package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPSinkConfig defines collector export settings.
type HTTPSinkConfig struct {
	Endpoint    string
	ServiceName string
	Client      *http.Client
}

// HTTPSink posts telemetry events as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint    string
	serviceName string
	client      *http.Client
}

// NewHTTPSink creates a collector sink.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	rawEndpoint := strings.TrimSpace(cfg.Endpoint)
	if rawEndpoint == "" {
		return nil, fmt.Errorf("collector endpoint is required")
	}
	parsed, err := url.Parse(rawEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse collector endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("collector endpoint must include scheme and host")
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "deckd"
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPSink{
		endpoint:    parsed.String(),
		serviceName: serviceName,
		client:      client,
	}, nil
}

type collectorEnvelope struct {
	ServiceName string `json:"service_name"`
	Event       Event  `json:"event"`
}

// Export sends one event to the collector.
func (s *HTTPSink) Export(ctx context.Context, event Event) error {
	if s == nil || s.endpoint == "" {
		return fmt.Errorf("collector sink is not configured")
	}

	payload, err := json.Marshal(collectorEnvelope{
		ServiceName: s.serviceName,
		Event:       event,
	})
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post telemetry event: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
