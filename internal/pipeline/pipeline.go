// Package pipeline runs capture, analysis and smoothing as one session and
// hands the latest band vector to a render loop.
//
// The capture callback copies each block into a bounded queue and returns.
// A worker goroutine downmixes, gates and analyzes queued blocks and
// publishes an immutable snapshot through an atomic pointer. Tick, called by
// the renderer, loads that snapshot and advances the smoothing filter only
// when a new one has arrived. A supervisor goroutine watches the stream and
// reopens the device with exponential backoff when it is lost.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/observe"
	"github.com/olivier-w/bandviz/internal/smoothing"
)

// Clock abstracts time for stall detection and backoff.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options configures a Pipeline. Zero values take defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics
	// Hints are appended to the configured loopback hints.
	Hints []string
	Clock Clock
}

// Pipeline is safe for concurrent use. Start, Stop and Reconfigure are
// serialized; Tick and Status never wait on them.
type Pipeline struct {
	backend capture.Backend
	log     *slog.Logger
	metrics *observe.Metrics
	hints   []string
	clock   Clock

	mu     sync.Mutex // lifecycle
	cfg    *config.Config
	cancel context.CancelFunc
	group  *errgroup.Group

	sessMu sync.Mutex
	sess   *session

	state  atomic.Int32
	device atomic.Pointer[string]
	errMu  sync.Mutex
	err    error

	gen  atomic.Uint64
	seq  atomic.Uint64
	snap atomic.Pointer[snapshot]

	dropped    atomic.Uint64
	overflows  atomic.Uint64
	panics     atomic.Uint64
	recoveries atomic.Uint64

	tickMu  sync.Mutex
	filter  *smoothing.Filter
	bands   int
	tickGen uint64
	lastSeq uint64
	held    []float64
}

// New returns a stopped pipeline reading from backend.
func New(backend capture.Backend, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	bands := config.Default().Analysis.BandCount
	return &Pipeline{
		backend: backend,
		log:     opts.Logger.With("component", "pipeline"),
		metrics: opts.Metrics,
		hints:   opts.Hints,
		clock:   opts.Clock,
		bands:   bands,
		held:    make([]float64, bands),
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) {
	if old := State(p.state.Swap(int32(s))); old != s {
		p.log.Debug("state change", "from", old, "to", s)
	}
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

// Config returns the configuration of the current or last session.
func (p *Pipeline) Config() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg == nil {
		return nil
	}
	return p.cfg.Clone()
}

// Status returns a snapshot of the pipeline counters and state.
func (p *Pipeline) Status() Status {
	st := Status{
		State:      p.State(),
		Dropped:    p.dropped.Load(),
		Overflows:  p.overflows.Load(),
		Panics:     p.panics.Load(),
		Recoveries: p.recoveries.Load(),
		Generation: p.gen.Load(),
	}
	if d := p.device.Load(); d != nil {
		st.Device = *d
	}
	p.errMu.Lock()
	st.Err = p.err
	p.errMu.Unlock()
	p.tickMu.Lock()
	st.BandCount = p.bands
	p.tickMu.Unlock()
	return st
}

// Start validates cfg, opens the best capture device and begins analysis.
// Configuration problems are reported before any device is touched.
func (p *Pipeline) Start(ctx context.Context, cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx, cfg)
}

func (p *Pipeline) startLocked(ctx context.Context, cfg *config.Config) error {
	switch p.State() {
	case Starting, Running, Recovering:
		return ErrAlreadyRunning
	}
	if err := config.Validate(cfg); err != nil {
		return &Error{Op: "start", Config: cfg, Err: err}
	}
	// A supervisor that gave up leaves its group behind.
	_ = p.stopLocked()

	cfg = cfg.Clone()
	p.cfg = cfg
	p.setErr(nil)
	p.setState(Starting)

	f, err := smoothing.New(cfg.Analysis.BandCount, cfg.SmoothingParams())
	if err != nil {
		err = fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
		p.setErr(err)
		p.setState(Stopped)
		return &Error{Op: "start", Device: cfg.Audio.Device, Config: cfg, Err: err}
	}

	s, dev, err := p.openSession(ctx, cfg)
	if err != nil {
		name := dev.Name
		if name == "" {
			name = cfg.Audio.Device
		}
		p.setErr(err)
		p.setState(Stopped)
		return &Error{Op: "start", Device: name, Config: cfg, Err: err}
	}

	p.tickMu.Lock()
	p.filter = f
	p.bands = f.Len()
	p.held = make([]float64, f.Len())
	p.tickGen = s.gen
	p.lastSeq = 0
	p.tickMu.Unlock()

	p.install(s)
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group = new(errgroup.Group)
	p.group.Go(func() error { return p.supervise(runCtx, cfg) })
	p.setState(Running)
	return nil
}

// Stop ends the session. It is safe to call from the render goroutine while
// capture is running and is a no-op when already stopped. No capture
// callback runs after Stop returns.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Pipeline) stopLocked() error {
	if p.cancel == nil && p.current() == nil {
		return nil
	}
	p.setState(Stopping)
	if p.cancel != nil {
		p.cancel()
		_ = p.group.Wait()
		p.cancel, p.group = nil, nil
	}
	err := p.teardown()
	p.snap.Store(nil)
	p.tickMu.Lock()
	if p.filter != nil {
		p.filter.Reset()
	}
	clear(p.held)
	p.lastSeq = 0
	p.tickMu.Unlock()
	p.device.Store(nil)
	p.setState(Stopped)
	return err
}

// Reconfigure restarts the pipeline with cfg. An invalid cfg is rejected
// without disturbing the running session.
func (p *Pipeline) Reconfigure(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return &Error{Op: "reconfigure", Config: cfg, Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.stopLocked(); err != nil {
		p.log.Warn("closing stream for reconfigure", "err", err)
	}
	return p.startLocked(ctx, cfg)
}

func (p *Pipeline) current() *session {
	p.sessMu.Lock()
	defer p.sessMu.Unlock()
	return p.sess
}

func (p *Pipeline) install(s *session) {
	p.sessMu.Lock()
	p.sess = s
	p.sessMu.Unlock()
	name := s.dev.Name
	p.device.Store(&name)
}

// teardown closes the current session, if any.
func (p *Pipeline) teardown() error {
	p.sessMu.Lock()
	s := p.sess
	p.sess = nil
	p.sessMu.Unlock()
	if s == nil {
		return nil
	}
	return s.close()
}

// publish stores a new snapshot for Tick.
func (p *Pipeline) publish(gen uint64, bands []float64) {
	p.snap.Store(&snapshot{seq: p.seq.Add(1), gen: gen, bands: bands})
}

// Tick returns the smoothed band vector for one render frame. The filter
// advances only when the worker has published a new vector since the last
// call; otherwise the previous output is returned unchanged. When stopped it
// returns zeros. The result is owned by the caller.
func (p *Pipeline) Tick() []float64 {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	snap := p.snap.Load()
	if snap == nil || p.filter == nil {
		return make([]float64, p.bands)
	}
	if snap.gen != p.tickGen {
		p.filter.Reset()
		clear(p.held)
		p.tickGen = snap.gen
		p.lastSeq = 0
	}
	if snap.seq != p.lastSeq && len(snap.bands) == p.filter.Len() {
		copy(p.held, p.filter.Smooth(snap.bands))
		p.lastSeq = snap.seq
	}
	return append([]float64(nil), p.held...)
}

// supervise watches the session and recovers from device loss until ctx is
// cancelled or recovery gives up.
func (p *Pipeline) supervise(ctx context.Context, cfg *config.Config) error {
	for {
		s := p.current()
		if s == nil {
			return nil
		}
		err := s.watch(ctx, cfg.Recovery.StallTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, capture.ErrEndOfStream) {
			p.log.Info("capture source finished", "device", s.dev.Name)
			p.finish(nil)
			return nil
		}

		p.log.Warn("capture lost", "device", s.dev.Name, "err", err)
		p.setErr(err)
		p.setState(Recovering)
		if cerr := p.teardown(); cerr != nil {
			p.log.Debug("closing lost stream", "err", cerr)
		}

		if err := p.reconnect(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.finish(err)
			return err
		}
		p.setState(Running)
	}
}

// finish moves to Stopped after the supervisor gives up.
func (p *Pipeline) finish(err error) {
	if err != nil {
		p.setErr(err)
	}
	_ = p.teardown()
	p.snap.Store(nil)
	p.setState(Stopped)
}

// reconnect reopens a device with exponential backoff.
func (p *Pipeline) reconnect(ctx context.Context, cfg *config.Config) error {
	r := cfg.Recovery
	backoff := r.Backoff
	var lastErr error = capture.ErrDeviceLost

	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Info("attempting capture recovery",
			"attempt", attempt,
			"max_retries", r.MaxRetries,
			"backoff", backoff,
		)

		s, _, err := p.openSession(ctx, cfg)
		if err == nil {
			if ctx.Err() != nil {
				_ = s.close()
				return ctx.Err()
			}
			p.install(s)
			p.setErr(nil)
			p.recoveries.Add(1)
			p.metrics.RecordRecovery(ctx, p.backend.Name(), true)
			p.log.Info("capture recovered", "device", s.dev.Name, "attempt", attempt)
			return nil
		}

		lastErr = err
		p.setErr(err)
		p.metrics.RecordRecovery(ctx, p.backend.Name(), false)
		p.log.Warn("capture recovery failed",
			"attempt", attempt,
			"err", err,
		)

		if attempt == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(backoff):
		}
		backoff = min(backoff*2, r.MaxBackoff)
	}

	p.log.Error("capture recovery exhausted",
		"max_retries", r.MaxRetries,
		"err", lastErr,
	)
	return fmt.Errorf("recovery failed after %d attempts: %w", r.MaxRetries, lastErr)
}
