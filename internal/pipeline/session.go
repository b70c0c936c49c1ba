package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olivier-w/bandviz/internal/analysis"
	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/downmix"
)

// queueDepth bounds the blocks waiting for the worker.
const queueDepth = 8

// snapshot is an immutable band vector published by the worker.
type snapshot struct {
	seq   uint64
	gen   uint64
	bands []float64
}

// session is one open capture stream with its worker.
type session struct {
	p      *Pipeline
	cfg    *config.Config
	dev    capture.Device
	params capture.StreamParams
	gen    uint64
	bands  int
	log    *slog.Logger

	stream capture.Stream
	queue  *blockQueue
	notify chan struct{}

	closed     atomic.Bool
	inflight   atomic.Int32
	lastActive atomic.Int64 // unix nanos of the last block

	cancel context.CancelFunc
	group  *errgroup.Group
}

// openSession discovers and opens a device and starts its worker. The chosen
// device is returned even when opening it fails.
func (p *Pipeline) openSession(ctx context.Context, cfg *config.Config) (*session, capture.Device, error) {
	devs, err := capture.ListCandidates(ctx, p.backend)
	if err != nil {
		return nil, capture.Device{}, err
	}
	hints := append(append([]string(nil), cfg.Audio.LoopbackHints...), p.hints...)
	dev, err := capture.Choose(devs, capture.Preference{
		Device:        cfg.Audio.Device,
		Hints:         hints,
		AllowFallback: cfg.Audio.FallbackToDefault,
	})
	if err != nil {
		return nil, capture.Device{}, err
	}

	channels := cfg.Audio.Channels
	if channels <= 0 || channels > dev.Channels {
		channels = dev.Channels
	}
	channels = min(channels, config.MaxChannels)
	params := capture.StreamParams{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   channels,
		BlockSize:  cfg.Audio.BlockSize,
	}

	an, err := analysis.New(cfg.AnalysisParams(params.SampleRate))
	if err != nil {
		return nil, dev, fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
	}

	s := &session{
		p:      p,
		cfg:    cfg,
		dev:    dev,
		params: params,
		gen:    p.gen.Add(1),
		bands:  an.BandCount(),
		log:    p.log.With("device", dev.Name, "backend", p.backend.Name()),
		queue:  newBlockQueue(queueDepth, params.BlockSize*params.Channels),
		notify: make(chan struct{}, 1),
	}
	s.lastActive.Store(p.clock.Now().UnixNano())

	stream, err := p.backend.Open(ctx, dev, params, s.onBlock)
	if err != nil {
		return nil, dev, fmt.Errorf("opening %q: %w", dev.Name, err)
	}
	s.stream = stream
	p.metrics.ActiveStreams.Add(context.Background(), 1)

	w := &worker{
		s:        s,
		mix:      downmix.New(cfg.DownmixOptions()),
		analyzer: an,
		history:  newSampleRing(cfg.Analysis.FFTSize),
		dropped:  p.dropped.Load(),
	}
	if g := cfg.Analysis.Gate; g.Enabled {
		w.gate = analysis.NewGate(g.RMSOn, g.RMSOff, g.HoldFrames)
	}

	wctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, wctx = errgroup.WithContext(wctx)
	s.group.Go(func() error { return w.run(wctx) })

	s.log.Info("capture started",
		"sample_rate", params.SampleRate,
		"channels", params.Channels,
		"block_size", params.BlockSize,
		"loopback", dev.Loopback,
		"generation", s.gen,
	)
	return s, dev, nil
}

// onBlock runs on the backend's capture goroutine. It never blocks.
func (s *session) onBlock(b capture.Block) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	if s.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.p.panics.Add(1)
		}
	}()

	s.lastActive.Store(s.p.clock.Now().UnixNano())
	if b.Flags.Has(capture.FlagInputOverflow) || b.Flags.Has(capture.FlagInputUnderflow) {
		s.p.overflows.Add(1)
	}
	if len(b.Samples) == 0 {
		return
	}
	if n := s.queue.push(b); n > 0 {
		s.p.dropped.Add(uint64(n))
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// idle returns how long the stream has been silent.
func (s *session) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

// close stops delivery, waits for in-flight callbacks and the worker, and
// releases the device. Safe to call more than once.
func (s *session) close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.stream.Close()
	for s.inflight.Load() != 0 {
		runtime.Gosched()
	}
	s.cancel()
	_ = s.group.Wait()
	s.p.metrics.ActiveStreams.Add(context.Background(), -1)
	s.log.Info("capture stopped", "generation", s.gen)
	return err
}

// watch blocks until ctx is done, the stream ends, or the stream stalls for
// longer than stall. It returns nil only when ctx is done.
func (s *session) watch(ctx context.Context, stall time.Duration) error {
	var tick <-chan time.Time
	if stall > 0 {
		t := time.NewTicker(max(stall/4, time.Millisecond))
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stream.Done():
			err := s.stream.Err()
			switch {
			case errors.Is(err, capture.ErrEndOfStream):
				return err
			case err == nil || errors.Is(err, capture.ErrStreamClosed):
				return fmt.Errorf("%s: stream ended: %w", s.dev.Name, capture.ErrDeviceLost)
			}
			return err
		case <-tick:
			if d := s.idle(s.p.clock.Now()); d > stall {
				return fmt.Errorf("%s: no audio for %v: %w", s.dev.Name, d.Round(time.Millisecond), capture.ErrDeviceLost)
			}
		}
	}
}

// worker turns queued blocks into published band snapshots.
type worker struct {
	s        *session
	mix      *downmix.Downmixer
	analyzer *analysis.Analyzer
	gate     *analysis.Gate
	history  *sampleRing

	raw     []float32
	mono    []float64
	frame   []float64
	dropped uint64
	lastLog time.Time
}

func (w *worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.s.notify:
		}
		for {
			if ctx.Err() != nil {
				return nil
			}
			var (
				b  capture.Block
				ok bool
			)
			b, w.raw, ok = w.s.queue.pop(w.raw)
			if !ok {
				break
			}
			w.process(ctx, b)
		}
	}
}

func (w *worker) process(ctx context.Context, b capture.Block) {
	p := w.s.p
	start := time.Now()

	if b.Flags != 0 {
		kind := "overflow"
		if b.Flags.Has(capture.FlagInputUnderflow) {
			kind = "underflow"
		}
		p.metrics.RecordOverflow(ctx, kind)
		if start.Sub(w.lastLog) >= time.Second {
			w.lastLog = start
			w.s.log.Warn("capture "+kind, "overflows", p.overflows.Load())
		}
	}
	if d := p.dropped.Load(); d != w.dropped {
		p.metrics.CaptureDropped.Add(ctx, int64(d-w.dropped))
		w.dropped = d
	}
	p.metrics.CaptureBlocks.Add(ctx, 1)

	if rate := b.Format.SampleRate; rate > 0 && rate != w.analyzer.Params().SampleRate {
		if err := w.retune(rate); err != nil {
			w.s.log.Error("sample rate change", "rate", rate, "err", err)
			return
		}
	}

	w.mono = w.mix.Downmix(b, w.mono)
	w.history.write(w.mono)
	open := true
	if w.gate != nil {
		was := w.gate.Open()
		if open = w.gate.Update(w.mono); open != was {
			w.s.log.Debug("silence gate", "open", open)
		}
	}

	w.frame = w.history.read(w.analyzer.Params().FFTSize, w.frame)
	bands := make([]float64, w.analyzer.BandCount())
	if open {
		copy(bands, w.analyzer.Analyze(w.frame))
	}
	p.publish(w.s.gen, bands)
	p.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
}

// retune rebuilds the analyzer for a stream that delivers a different rate
// than requested.
func (w *worker) retune(rate int) error {
	params := w.analyzer.Params()
	requested := params.SampleRate
	params.SampleRate = rate
	an, err := analysis.New(params)
	if err != nil {
		return err
	}
	if an.BandCount() != w.analyzer.BandCount() {
		return fmt.Errorf("band count changed from %d to %d", w.analyzer.BandCount(), an.BandCount())
	}
	w.s.log.Warn("device rate differs from requested", "requested", requested, "actual", rate)
	w.analyzer = an
	w.history.clear()
	return nil
}
