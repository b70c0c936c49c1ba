// Command bandviz draws a live frequency-band view of system audio in the
// terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/observe"
	"github.com/olivier-w/bandviz/internal/pipeline"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var o overrides
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.StringVar(&o.backend, "backend", "", "capture backend: hw, pulse or file")
	flag.StringVar(&o.device, "device", "", "capture device ID or name")
	flag.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	listOnly := flag.Bool("list-devices", false, "list capture devices and exit")
	pick := flag.Bool("pick", false, "choose the capture device interactively")
	headless := flag.Bool("headless", false, "run without the terminal view and log levels instead")
	logFile := flag.String("log-file", "", "write logs to this file (the terminal view discards them otherwise)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: bandviz [flags] [file|dir|playlist ...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	o.files = flag.Args()

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "bandviz: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
			}
			return 1
		}
	}
	o.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logOut io.Writer = io.Discard
	if *headless || *listOnly {
		logOut = os.Stderr
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, release, err := newBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
		return 1
	}
	defer release()

	if *listOnly {
		if err := listDevices(ctx, os.Stdout, backend, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
			return 1
		}
		return 0
	}

	var pickFrom []capture.Device
	if *pick && !*headless {
		pickFrom, err = capture.ListCandidates(ctx, backend)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
			return 1
		}
		if len(pickFrom) == 0 {
			fmt.Fprintf(os.Stderr, "bandviz: %v\n", capture.ErrNoDeviceFound)
			return 1
		}
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	metrics := observe.Discard()
	if cfg.Metrics.ListenAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			slog.Error("failed to initialise metrics", "err", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		metrics = observe.DefaultMetrics()
	}

	p := pipeline.New(backend, pipeline.Options{Logger: logger, Metrics: metrics})
	defer func() {
		if err := p.Stop(); err != nil {
			slog.Warn("pipeline stop", "err", err)
		}
	}()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := observe.Serve(ctx, addr, health(p)); err != nil {
				slog.Error("metrics server", "addr", addr, "err", err)
			}
		}()
		slog.Info("metrics listening", "addr", addr)
	}

	slog.Info("bandviz starting", "version", version, "backend", cfg.Audio.Backend)

	if *headless {
		if err := p.Start(ctx, cfg); err != nil {
			slog.Error("failed to start capture", "err", err)
			return 1
		}
		if err := runHeadless(ctx, p, cfg.Render.FPS, time.Second); err != nil {
			slog.Error("capture stopped", "err", err)
			return 1
		}
		return 0
	}

	prog := tea.NewProgram(newStartupModel(ctx, p, cfg, pickFrom), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "bandviz: %v\n", err)
		return 1
	}
	if sm, ok := final.(startupModel); ok && sm.err != nil {
		fmt.Fprintf(os.Stderr, "bandviz: %v\n", sm.err)
		return 1
	}
	return 0
}

// ticker is the pipeline as the headless loop uses it.
type ticker interface {
	Tick() []float64
	Status() pipeline.Status
}

// runHeadless drives Tick at fps and logs the loudest band every report
// interval. It returns when ctx ends or the pipeline stops; a stop caused by
// an unrecovered device error is returned.
func runHeadless(ctx context.Context, p ticker, fps int, report time.Duration) error {
	if fps <= 0 {
		fps = 60
	}
	frame := time.NewTicker(time.Second / time.Duration(fps))
	defer frame.Stop()
	logEvery := time.NewTicker(report)
	defer logEvery.Stop()

	var bands []float64
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-frame.C:
			bands = p.Tick()
			st := p.Status()
			if st.State == pipeline.Stopped {
				if st.Err != nil {
					return st.Err
				}
				slog.Info("source finished")
				return nil
			}

		case <-logEvery.C:
			st := p.Status()
			idx, peak := loudest(bands)
			slog.Info("levels",
				"state", st.State,
				"device", st.Device,
				"peak_band", idx,
				"peak", fmt.Sprintf("%.3f", peak),
				"dropped", st.Dropped,
				"overflows", st.Overflows,
				"recoveries", st.Recoveries,
			)
		}
	}
}

// loudest returns the index and value of the largest band, or -1 when bands
// is empty.
func loudest(bands []float64) (int, float64) {
	idx, peak := -1, 0.0
	for i, v := range bands {
		if idx < 0 || v > peak {
			idx, peak = i, v
		}
	}
	return idx, peak
}

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Slog()}))
}
