package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slipmat/deckd/api/hardware"
	"github.com/slipmat/deckd/controllers/rawmidi"
	"github.com/slipmat/deckd/devices/loopback"
	"github.com/slipmat/deckd/devices/rawpcm"
	"github.com/slipmat/deckd/internal/config"
	"github.com/slipmat/deckd/internal/library"
	"github.com/slipmat/deckd/internal/observability/statushub"
	"github.com/slipmat/deckd/internal/observability/telemetry"
	"github.com/slipmat/deckd/internal/rt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "deckd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) error {
	_ = godotenv.Load()

	cleanupTelemetry, err := setupTelemetry()
	if err != nil {
		return err
	}
	defer cleanupTelemetry()

	if len(args) == 0 {
		printUsage(stdout)
		return fmt.Errorf("a command is required")
	}

	switch args[0] {
	case "run":
		return runDispatcher(ctx, args[1:], stdout, stderr)
	case "import":
		return runImport(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unsupported command %q", args[0])
	}
}

func setupTelemetry() (func(), error) {
	previous := telemetry.DefaultEmitter()

	pipeline, err := telemetry.NewPipelineFromEnv()
	if err != nil {
		return nil, fmt.Errorf("telemetry setup failed: %w", err)
	}
	if pipeline == nil {
		return func() {
			telemetry.SetDefaultEmitter(previous)
		}, nil
	}

	telemetry.SetDefaultEmitter(pipeline)
	return func() {
		_ = pipeline.Close()
		telemetry.SetDefaultEmitter(previous)
	}, nil
}

func runDispatcher(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "deckd.yaml", "path to deckd config yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// The hub is installed before the manager is built so lifecycle
	// telemetry reaches status subscribers too. Exports go through their
	// own bounded pipeline: a stalled subscriber costs dropped status
	// events, never a blocked emitter.
	hubDone := make(chan error, 1)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	var hubPipeline *telemetry.Pipeline
	if cfg.Status.Listen != "" {
		hub := statushub.New(statushub.Config{})
		hubPipeline = telemetry.NewPipeline(hub, telemetry.Config{})
		telemetry.SetDefaultEmitter(teeEmitter{primary: telemetry.DefaultEmitter(), status: hubPipeline})
		go func() {
			hubDone <- statushub.Serve(hubCtx, cfg.Status.Listen, hub)
		}()
	} else {
		hubDone <- nil
	}

	manager := rt.New(rt.Config{
		Priority: cfg.Realtime.Priority,
		Limits: rt.Limits{
			MaxDevices:     cfg.Realtime.MaxDevices,
			MaxControllers: cfg.Realtime.MaxControllers,
			MaxWaitHandles: cfg.Realtime.MaxWaitHandles,
		},
	})

	devices, err := buildDevices(cfg.Devices)
	if err != nil {
		return err
	}
	for i, dev := range devices {
		if err := manager.AddDevice(dev); err != nil {
			return fmt.Errorf("register device %s: %w", cfg.Devices[i].Name, err)
		}
	}

	controllers, closeControllers, err := buildControllers(cfg.Controllers, stderr)
	if err != nil {
		return err
	}
	defer closeControllers()
	for i, ctl := range controllers {
		if err := manager.AddController(ctl); err != nil {
			return fmt.Errorf("register controller %s: %w", cfg.Controllers[i].Name, err)
		}
	}

	if err := manager.Start(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "deckd: dispatching %d device(s), %d controller(s)\n", len(devices), len(controllers))

	<-ctx.Done()

	stopErr := manager.Stop()
	if hubPipeline != nil {
		// Drain queued status events while the hub is still serving.
		_ = hubPipeline.Close()
	}
	stopHub()
	if hubErr := <-hubDone; hubErr != nil && stopErr == nil {
		stopErr = hubErr
	}
	if stopErr != nil {
		return stopErr
	}
	_, _ = fmt.Fprintln(stdout, "deckd: stopped")
	return nil
}

func buildDevices(specs []config.DeviceSpec) ([]hardware.Device, error) {
	devices := make([]hardware.Device, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case config.DeviceRawPCM:
			dev, err := rawpcm.Open(rawpcm.Config{Path: spec.Path, FrameBytes: spec.FrameBytes})
			if err != nil {
				return nil, fmt.Errorf("open device %s: %w", spec.Name, err)
			}
			devices = append(devices, dev)
		case config.DeviceLoopback:
			devices = append(devices, loopback.New(time.Duration(spec.PeriodMS)*time.Millisecond))
		default:
			return nil, fmt.Errorf("unsupported device kind %q", spec.Kind)
		}
	}
	return devices, nil
}

func buildControllers(specs []config.ControllerSpec, stderr io.Writer) ([]hardware.Controller, func(), error) {
	controllers := make([]hardware.Controller, 0, len(specs))
	opened := make([]*rawmidi.Controller, 0, len(specs))
	closeAll := func() {
		for _, ctl := range opened {
			_ = ctl.Close()
		}
	}
	for _, spec := range specs {
		ctl, err := rawmidi.Open(rawmidi.Config{Path: spec.Path, Deck: spec.Deck}, func(event hardware.ControlEvent) {
			_, _ = fmt.Fprintf(stderr, "deckd: deck=%d control=%s value=%.3f\n", event.Deck, event.Control, event.Value)
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open controller %s: %w", spec.Name, err)
		}
		controllers = append(controllers, ctl)
		opened = append(opened, ctl)
	}
	return controllers, closeAll, nil
}

func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "deckd.yaml", "path to deckd config yaml")
	pathsRaw := fs.String("paths", "", "comma-separated music paths overriding the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	paths := cfg.Library.Paths
	if trimmed := strings.TrimSpace(*pathsRaw); trimmed != "" {
		paths = nil
		for _, part := range strings.Split(trimmed, ",") {
			if p := strings.TrimSpace(part); p != "" {
				paths = append(paths, p)
			}
		}
	}
	if cfg.Library.Scanner == "" {
		return fmt.Errorf("import requires a library scanner in the config")
	}
	if len(paths) == 0 {
		return fmt.Errorf("import requires at least one path")
	}

	lib := library.New(nil)
	for _, path := range paths {
		summary, err := lib.Import(ctx, cfg.Library.Scanner, path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		_, _ = fmt.Fprintf(stdout, "deckd: imported %d record(s) into crate %q\n", summary.Records, summary.Crate)
	}

	for _, crate := range lib.Crates() {
		_, _ = fmt.Fprintf(stdout, "  %s: %d record(s)\n", crate.Name(), crate.Len())
	}
	return nil
}

// teeEmitter mirrors telemetry into the status pipeline alongside the
// configured emitter. Both sides are non-blocking pipelines, so the emit
// path stays safe for lifecycle code near the realtime core.
type teeEmitter struct {
	primary telemetry.Emitter
	status  telemetry.Emitter
}

func (e teeEmitter) EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation telemetry.Correlation) {
	e.primary.EmitMetric(name, value, unit, attributes, correlation)
	e.status.EmitMetric(name, value, unit, attributes, correlation)
}

func (e teeEmitter) EmitLog(severity, message string, attributes map[string]string, correlation telemetry.Correlation) {
	e.primary.EmitLog(severity, message, attributes, correlation)
	e.status.EmitLog(severity, message, attributes, correlation)
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "deckd usage:")
	_, _ = fmt.Fprintln(w, "  deckd run [-config <path>]")
	_, _ = fmt.Fprintln(w, "  deckd import [-config <path>] [-paths <dir_a,dir_b>]")
}
