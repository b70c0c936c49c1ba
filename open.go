package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/capture/file"
	"github.com/olivier-w/bandviz/internal/capture/hw"
	"github.com/olivier-w/bandviz/internal/capture/pulse"
	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/observe"
	"github.com/olivier-w/bandviz/internal/pipeline"
)

// overrides are command line values layered over the config file.
type overrides struct {
	backend     string
	device      string
	metricsAddr string
	files       []string
}

// apply layers o over cfg. Files given without a backend select the file
// backend.
func (o overrides) apply(cfg *config.Config) {
	if len(o.files) > 0 {
		cfg.Audio.Files = o.files
		if o.backend == "" {
			cfg.Audio.Backend = config.BackendFile
		}
	}
	if o.backend != "" {
		cfg.Audio.Backend = config.Backend(o.backend)
	}
	if o.device != "" {
		cfg.Audio.Device = o.device
	}
	if o.metricsAddr != "" {
		cfg.Metrics.ListenAddr = o.metricsAddr
	}
}

// newBackend builds the capture backend cfg names. The returned func frees
// anything the backend holds process-wide.
func newBackend(cfg *config.Config, log *slog.Logger) (capture.Backend, func(), error) {
	switch cfg.Audio.Backend {
	case config.BackendHW:
		h := hw.New()
		return h, func() {
			if err := h.Close(); err != nil {
				log.Warn("closing audio host", "err", err)
			}
		}, nil

	case config.BackendPulse:
		return pulse.New(), func() {}, nil

	case config.BackendFile:
		paths, err := file.ExpandSources(cfg.Audio.Files)
		if err != nil {
			return nil, nil, err
		}
		if len(paths) == 0 {
			return nil, nil, fmt.Errorf("no playable files (supported: %s)", file.SupportedExtsList())
		}
		cfg.Audio.Files = paths
		// Playback starts at the first file unless one is pinned.
		if cfg.Audio.Device == "" {
			cfg.Audio.Device = paths[0]
		}
		return file.New(paths, file.Options{
			Loop:    cfg.Audio.Loop,
			Monitor: cfg.Audio.Monitor,
			Logger:  log,
		}), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Audio.Backend)
}

// preferred returns the device the pipeline would open with cfg, or the
// zero Device when none qualifies.
func preferred(devs []capture.Device, cfg *config.Config) capture.Device {
	d, err := capture.Choose(devs, capture.Preference{
		Device:        cfg.Audio.Device,
		Hints:         cfg.Audio.LoopbackHints,
		AllowFallback: cfg.Audio.FallbackToDefault,
	})
	if err != nil {
		return capture.Device{}
	}
	return d
}

// listDevices writes one row per device, marking the one that would be
// opened.
func listDevices(ctx context.Context, w io.Writer, b capture.Backend, cfg *config.Config) error {
	devs, err := capture.ListCandidates(ctx, b)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		_, err := fmt.Fprintf(w, "no %s devices found\n", b.Name())
		return err
	}
	chosen := preferred(devs, cfg)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tCH\tRATE\tFLAGS")
	for _, d := range devs {
		mark := ""
		if d.ID == chosen.ID && chosen.ID != "" {
			mark = "*"
		}
		flags := ""
		if d.Loopback {
			flags += "loopback "
		}
		if d.Default {
			flags += "default"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\t%s\n", mark, d.ID, d.Name, d.Channels, d.DefaultSampleRate, flags)
	}
	return tw.Flush()
}

// health reports the pipeline as unhealthy unless it is capturing.
func health(p interface{ Status() pipeline.Status }) observe.HealthFunc {
	return func() error {
		st := p.Status()
		if st.State == pipeline.Running {
			return nil
		}
		if st.Err != nil {
			return fmt.Errorf("%s: %w", st.State, st.Err)
		}
		return fmt.Errorf("pipeline %s", st.State)
	}
}
