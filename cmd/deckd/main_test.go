package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slipmat/deckd/internal/observability/statushub"
	"github.com/slipmat/deckd/internal/observability/telemetry"
)

const testConfigYAML = `realtime:
  priority: 80
devices:
  - kind: loopback
    name: loop0
    period_ms: 5
controllers: []
library:
  scanner: %q
  paths:
    - %q
status: {}
`

func writeTestConfig(t *testing.T, scanner, musicDir string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deckd.yaml")
	content := fmt.Sprintf(testConfigYAML, scanner, musicDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected config write error: %v", err)
	}
	return path
}

func writeTestScanner(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scan")
	script := "#!/bin/sh\nprintf '%s/one.flac\\tAsa\\tEye Adaba\\n' \"$1\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("unexpected scanner write error: %v", err)
	}
	return path
}

func TestRunRequiresCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected missing command error")
	}
	if !strings.Contains(stdout.String(), "deckd usage:") {
		t.Fatalf("expected usage output, got %q", stdout.String())
	}
}

func TestRunRejectsUnsupportedCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"mix"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "unsupported command") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunHelpPrintsUsage(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"help"}, &stdout, &stderr); err != nil {
		t.Fatalf("unexpected help error: %v", err)
	}
	if !strings.Contains(stdout.String(), "deckd import") {
		t.Fatalf("expected usage output, got %q", stdout.String())
	}
}

func TestRunImportScansConfiguredPaths(t *testing.T) {
	t.Parallel()

	musicDir := filepath.Join(t.TempDir(), "house")
	if err := os.MkdirAll(musicDir, 0o755); err != nil {
		t.Fatalf("unexpected mkdir error: %v", err)
	}
	scanner := writeTestScanner(t)
	configPath := writeTestConfig(t, scanner, musicDir)

	var stdout bytes.Buffer
	err := runImport(context.Background(), []string{"-config", configPath}, &stdout)
	if err != nil {
		t.Fatalf("unexpected import error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, `imported 1 record(s) into crate "house"`) {
		t.Fatalf("unexpected import output %q", out)
	}
	if !strings.Contains(out, "All records: 1 record(s)") {
		t.Fatalf("unexpected crate listing %q", out)
	}
}

func TestRunImportPathOverride(t *testing.T) {
	t.Parallel()

	musicDir := filepath.Join(t.TempDir(), "techno")
	if err := os.MkdirAll(musicDir, 0o755); err != nil {
		t.Fatalf("unexpected mkdir error: %v", err)
	}
	scanner := writeTestScanner(t)
	configPath := writeTestConfig(t, scanner, filepath.Join(t.TempDir(), "ignored"))

	var stdout bytes.Buffer
	err := runImport(context.Background(), []string{"-config", configPath, "-paths", musicDir}, &stdout)
	if err != nil {
		t.Fatalf("unexpected import error: %v", err)
	}
	if !strings.Contains(stdout.String(), `crate "techno"`) {
		t.Fatalf("unexpected import output %q", stdout.String())
	}
}

func TestTeeEmitterRoutesThroughBoundedStatusPipeline(t *testing.T) {
	t.Parallel()

	hub := statushub.New(statushub.Config{})
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	primarySink := telemetry.NewMemorySink()
	primary := telemetry.NewPipeline(primarySink, telemetry.Config{})
	hubPipeline := telemetry.NewPipeline(hub, telemetry.Config{})
	tee := teeEmitter{primary: primary, status: hubPipeline}

	tee.EmitLog("info", "realtime manager stopped", nil, telemetry.Correlation{RunID: "run-7", Component: "rt"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got telemetry.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("unexpected status read error: %v", err)
	}
	if got.Log == nil || got.Log.Message != "realtime manager stopped" {
		t.Fatalf("unexpected status event %+v", got)
	}

	if err := primary.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := hubPipeline.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if events := primarySink.EventsForRun("run-7"); len(events) != 1 {
		t.Fatalf("expected the primary emitter to receive the event, got %d", len(events))
	}
}

func TestRunDispatcherStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	musicDir := t.TempDir()
	scanner := writeTestScanner(t)
	configPath := writeTestConfig(t, scanner, musicDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	if err := runDispatcher(ctx, []string{"-config", configPath}, &stdout, &stderr); err != nil {
		t.Fatalf("unexpected dispatcher error: %v", err)
	}
	if !strings.Contains(stdout.String(), "deckd: stopped") {
		t.Fatalf("unexpected dispatcher output %q", stdout.String())
	}
}
