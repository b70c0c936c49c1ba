package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/olivier-w/bandviz/internal/analysis"
	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/capture/mock"
	"github.com/olivier-w/bandviz/internal/config"
)

const testRate = 44100

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = testRate
	cfg.Audio.BlockSize = 1024
	cfg.Analysis.Gate.Enabled = false
	cfg.Recovery.MaxRetries = 3
	cfg.Recovery.Backoff = time.Millisecond
	cfg.Recovery.MaxBackoff = 4 * time.Millisecond
	cfg.Recovery.StallTimeout = 0
	return cfg
}

func loopbackDevice() capture.Device {
	return capture.Device{ID: "mix", Name: "Stereo Mix", Backend: "mock", Channels: 2, Loopback: true}
}

func startPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *mock.Backend, *mock.Stream) {
	t.Helper()
	b := mock.New(loopbackDevice())
	p := New(b, Options{})
	if err := p.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p, b, nextStream(t, b)
}

func nextStream(t *testing.T, b *mock.Backend) *mock.Stream {
	t.Helper()
	select {
	case s := <-b.Opened():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

// emit delivers samples and waits until the worker has published them,
// re-sending if the block was dropped on a contended queue.
func emit(t *testing.T, p *Pipeline, s *mock.Stream, samples []float32, flags capture.Flags) {
	t.Helper()
	for {
		before, drops := p.seq.Load(), p.dropped.Load()
		if !s.Emit(samples, flags) {
			t.Fatal("Emit() on closed stream")
		}
		deadline := time.Now().Add(2 * time.Second)
		for p.seq.Load() == before {
			if p.dropped.Load() != drops {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("worker did not publish")
			}
			time.Sleep(time.Millisecond)
		}
		if p.seq.Load() != before {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func TestStartRejectsInvalidConfigBeforeOpen(t *testing.T) {
	b := mock.New(loopbackDevice())
	p := New(b, Options{})
	cfg := testConfig()
	cfg.Analysis.FFTSize = 1000

	err := p.Start(context.Background(), cfg)
	if !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Fatalf("Start() error = %v, want ErrInvalidConfiguration", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Op != "start" || pe.Config != cfg {
		t.Fatalf("error = %#v, want *Error with op and config", err)
	}
	if b.Opens() != 0 {
		t.Fatalf("device opened %d times for invalid config", b.Opens())
	}
	if p.State() != Stopped {
		t.Fatalf("state = %v, want stopped", p.State())
	}
}

func TestStartRejectsNaNSmoothingBeforeOpen(t *testing.T) {
	b := mock.New(loopbackDevice())
	p := New(b, Options{})
	cfg := testConfig()
	cfg.Smoothing.Blend = math.NaN()

	err := p.Start(context.Background(), cfg)
	if !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Fatalf("Start() error = %v, want ErrInvalidConfiguration", err)
	}
	if b.Opens() != 0 {
		t.Fatalf("device opened %d times for invalid config", b.Opens())
	}
	if p.State() != Stopped {
		t.Fatalf("state = %v, want stopped", p.State())
	}
}

func TestStartOpenFailureNamesChosenDevice(t *testing.T) {
	b := mock.New(loopbackDevice())
	busy := errors.New("device busy")
	b.FailOpen(busy)
	p := New(b, Options{})

	err := p.Start(context.Background(), testConfig())
	var pe *Error
	if !errors.As(err, &pe) || !errors.Is(err, busy) {
		t.Fatalf("Start() error = %v, want *Error wrapping busy", err)
	}
	if pe.Device != "Stereo Mix" {
		t.Fatalf("Error.Device = %q, want the discovered device", pe.Device)
	}
	if st := p.Status(); st.State != Stopped || !errors.Is(st.Err, busy) {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestStartNoDeviceFound(t *testing.T) {
	p := New(mock.New(), Options{})
	err := p.Start(context.Background(), testConfig())
	if !errors.Is(err, capture.ErrNoDeviceFound) {
		t.Fatalf("Start() error = %v, want ErrNoDeviceFound", err)
	}
	if st := p.Status(); st.State != Stopped || !errors.Is(st.Err, capture.ErrNoDeviceFound) {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestStartTwice(t *testing.T) {
	p, _, _ := startPipeline(t, testConfig())
	if err := p.Start(context.Background(), testConfig()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestToneEndToEnd(t *testing.T) {
	cfg := testConfig()
	p, _, s := startPipeline(t, cfg)
	if st := p.Status(); st.State != Running || st.Device != "Stereo Mix" {
		t.Fatalf("Status() = %+v", st)
	}

	const blocks = 12
	tone := mock.Tone(440, 0.5, testRate, 2, blocks*cfg.Audio.BlockSize)
	n := cfg.Audio.BlockSize * 2
	var out []float64
	for i := 0; i < blocks; i++ {
		emit(t, p, s, tone[i*n:(i+1)*n], 0)
		out = p.Tick()
	}

	bm, err := analysis.NewBandMap(testRate, cfg.Analysis.FFTSize, cfg.Analysis.BandCount, cfg.Analysis.MinFreq, cfg.Analysis.MaxFreq)
	if err != nil {
		t.Fatal(err)
	}
	peak := 0
	for i, v := range out {
		if v > out[peak] {
			peak = i
		}
	}
	if lo, hi := bm.Band(peak); lo > 440 || hi < 440 {
		t.Fatalf("peak band %d spans %.0f-%.0f Hz, want 440 inside (out=%v)", peak, lo, hi, out)
	}
	for i, v := range out {
		if lo, _ := bm.Band(i); lo > 5000 && v >= out[peak] {
			t.Fatalf("band %d above 5 kHz = %v >= peak %v", i, v, out[peak])
		}
	}
}

func TestTickIsIdempotentWithoutNewData(t *testing.T) {
	cfg := testConfig()
	p, _, s := startPipeline(t, cfg)
	tone := mock.Tone(1000, 0.5, testRate, 2, cfg.Audio.BlockSize)
	emit(t, p, s, tone, 0)

	first := p.Tick()
	if allZero(first) {
		t.Fatal("Tick() returned zeros after a tone block")
	}
	for i := 0; i < 5; i++ {
		again := p.Tick()
		for b := range first {
			if again[b] != first[b] {
				t.Fatalf("tick %d band %d = %v, want held %v", i, b, again[b], first[b])
			}
		}
	}

	emit(t, p, s, tone, 0)
	next := p.Tick()
	changed := false
	for b := range first {
		changed = changed || next[b] != first[b]
	}
	if !changed {
		t.Fatal("Tick() did not advance after new data")
	}
}

func TestTickReturnsCallerOwnedSlice(t *testing.T) {
	p, _, _ := startPipeline(t, testConfig())
	a := p.Tick()
	a[0] = 42
	if b := p.Tick(); b[0] == 42 {
		t.Fatal("Tick() shares its buffer with the caller")
	}
}

func TestTickZerosWhenStopped(t *testing.T) {
	b := mock.New(loopbackDevice())
	p := New(b, Options{})
	if v := p.Tick(); len(v) != 32 || !allZero(v) {
		t.Fatalf("Tick() before Start = %v", v)
	}

	cfg := testConfig()
	if err := p.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	s := nextStream(t, b)
	emit(t, p, s, mock.Tone(1000, 0.5, testRate, 2, cfg.Audio.BlockSize), 0)
	if allZero(p.Tick()) {
		t.Fatal("expected signal before Stop")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if v := p.Tick(); len(v) != 32 || !allZero(v) {
		t.Fatalf("Tick() after Stop = %v", v)
	}
}

func TestSilenceGateZeroesOutput(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.Gate.Enabled = true
	cfg.Analysis.NoiseFloor = 0
	p, _, s := startPipeline(t, cfg)

	quiet := mock.Tone(1000, 0.0001, testRate, 2, cfg.Audio.BlockSize)
	emit(t, p, s, quiet, 0)
	if v := p.Tick(); !allZero(v) {
		t.Fatalf("gate passed a quiet block: %v", v)
	}
	emit(t, p, s, mock.Tone(1000, 0.5, testRate, 2, cfg.Audio.BlockSize), 0)
	if allZero(p.Tick()) {
		t.Fatal("gate blocked a loud block")
	}
}

func TestOverflowCounted(t *testing.T) {
	cfg := testConfig()
	p, _, s := startPipeline(t, cfg)
	emit(t, p, s, make([]float32, cfg.Audio.BlockSize*2), capture.FlagInputOverflow)
	emit(t, p, s, make([]float32, cfg.Audio.BlockSize*2), capture.FlagInputUnderflow)
	if got := p.Status().Overflows; got != 2 {
		t.Fatalf("Overflows = %d, want 2", got)
	}
	if p.State() != Running {
		t.Fatalf("state = %v after overflow, want running", p.State())
	}
}

func TestDeviceLostRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.Backoff = 50 * time.Millisecond
	cfg.Recovery.MaxBackoff = 50 * time.Millisecond
	p, b, s := startPipeline(t, cfg)
	emit(t, p, s, mock.Tone(1000, 0.5, testRate, 2, cfg.Audio.BlockSize), 0)
	held := p.Tick()
	gen := p.Status().Generation

	b.FailOpen(errors.New("device busy"))
	s.Lose()

	waitFor(t, "recovering", func() bool { return p.State() == Recovering })

	// Tick keeps answering while the supervisor backs off.
	start := time.Now()
	v := p.Tick()
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("Tick() blocked during recovery")
	}
	for i := range held {
		if v[i] != held[i] {
			t.Fatalf("band %d changed during recovery: %v -> %v", i, held[i], v[i])
		}
	}

	s2 := nextStream(t, b)
	waitFor(t, "running", func() bool { return p.State() == Running })
	st := p.Status()
	if st.Recoveries != 1 || st.Generation <= gen || st.Err != nil {
		t.Fatalf("Status() after recovery = %+v", st)
	}
	if !s.Closed() {
		t.Fatal("lost stream was not closed")
	}

	// New generation starts from a reset filter.
	emit(t, p, s2, make([]float32, cfg.Audio.BlockSize*2), 0)
	if v := p.Tick(); !allZero(v) {
		t.Fatalf("Tick() after recovery with silence = %v, want zeros", v)
	}
}

func TestDeviceLostRediscoversOtherSource(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.Channels = 8
	p, b, s := startPipeline(t, cfg)
	if s.Device.ID != "mix" {
		t.Fatalf("opened %q, want mix", s.Device.ID)
	}

	monitor := capture.Device{ID: "spk.monitor", Name: "Monitor of Speakers", Backend: "mock", Channels: 6, Loopback: true}
	b.SetDevices(monitor)
	s.Lose()

	s2 := nextStream(t, b)
	if s2.Device.ID != monitor.ID || s2.Params.Channels != 6 {
		t.Fatalf("reopened %q with %d channels, want %q with 6", s2.Device.ID, s2.Params.Channels, monitor.ID)
	}
	waitFor(t, "running", func() bool { return p.State() == Running })
	if st := p.Status(); st.Device != monitor.Name || st.Recoveries != 1 {
		t.Fatalf("Status() after rediscovery = %+v", st)
	}
	emit(t, p, s2, mock.Tone(1000, 0.5, testRate, 6, cfg.Audio.BlockSize), 0)
	if v := p.Tick(); allZero(v) {
		t.Fatal("Tick() after rediscovery is silent")
	}
}

func TestDeviceLostEnumerationFails(t *testing.T) {
	p, b, s := startPipeline(t, testConfig())
	enumErr := errors.New("enumeration failed")
	b.FailDevices(enumErr)
	s.Lose()

	waitFor(t, "stopped", func() bool { return p.State() == Stopped })
	if st := p.Status(); !errors.Is(st.Err, enumErr) {
		t.Fatalf("Status().Err = %v, want enumeration error", st.Err)
	}
	if b.Opens() != 1 {
		t.Fatalf("opens = %d, want only the first", b.Opens())
	}
}

func TestDeviceLostExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	p, b, s := startPipeline(t, cfg)
	busy := errors.New("device busy")
	b.FailOpen(busy, busy, busy)
	s.Lose()

	waitFor(t, "stopped", func() bool { return p.State() == Stopped })
	st := p.Status()
	if !errors.Is(st.Err, busy) {
		t.Fatalf("Status().Err = %v, want busy", st.Err)
	}
	if v := p.Tick(); !allZero(v) {
		t.Fatalf("Tick() after exhaustion = %v", v)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() after exhaustion = %v", err)
	}

	if err := p.Start(context.Background(), cfg); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	nextStream(t, b)
	if p.State() != Running {
		t.Fatalf("state = %v, want running", p.State())
	}
}

func TestStallTreatedAsDeviceLoss(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.StallTimeout = 30 * time.Millisecond
	p, b, s := startPipeline(t, cfg)
	_ = s
	waitFor(t, "recovery after stall", func() bool { return p.Status().Recoveries >= 1 })
	if b.Opens() < 2 {
		t.Fatalf("Opens() = %d, want reopen", b.Opens())
	}
}

func TestEndOfStreamStops(t *testing.T) {
	p, b, s := startPipeline(t, testConfig())
	s.Finish()
	waitFor(t, "stopped", func() bool { return p.State() == Stopped })
	if err := p.Status().Err; err != nil {
		t.Fatalf("Status().Err = %v, want nil", err)
	}
	if b.Opens() != 1 {
		t.Fatalf("Opens() = %d, want no reopen", b.Opens())
	}
}

func TestStopWhileCapturing(t *testing.T) {
	cfg := testConfig()
	p, _, s := startPipeline(t, cfg)
	block := mock.Tone(1000, 0.5, testRate, 2, cfg.Audio.BlockSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for s.Emit(block, 0) {
		}
	}()
	go func() {
		defer wg.Done()
		for p.State() != Stopped {
			p.Tick()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	emits := s.Emits()
	if s.Emit(block, 0) {
		t.Fatal("callback delivered after Stop")
	}
	if s.Emits() != emits {
		t.Fatal("emit count changed after Stop")
	}
	wg.Wait()

	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if st := p.Status(); st.State != Stopped || st.Device != "" {
		t.Fatalf("Status() after Stop = %+v, want stopped with no device", st)
	}
}

func TestReconfigure(t *testing.T) {
	p, b, _ := startPipeline(t, testConfig())

	cfg := testConfig()
	cfg.Analysis.BandCount = 16
	cfg.Smoothing.Mode = "spring"
	if err := p.Reconfigure(context.Background(), cfg); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	s := nextStream(t, b)
	if got := len(p.Tick()); got != 16 {
		t.Fatalf("Tick() len = %d, want 16", got)
	}
	if s.Params.SampleRate != testRate {
		t.Fatalf("reopened at %d Hz", s.Params.SampleRate)
	}

	bad := testConfig()
	bad.Smoothing.Decay = 2
	if err := p.Reconfigure(context.Background(), bad); !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Fatalf("Reconfigure(bad) error = %v", err)
	}
	if p.State() != Running || s.Closed() {
		t.Fatal("invalid Reconfigure disturbed the running session")
	}
	if got := p.Config().Analysis.BandCount; got != 16 {
		t.Fatalf("Config().BandCount = %d", got)
	}
}

func TestChannelsCappedByDevice(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.Channels = 6
	p, _, s := startPipeline(t, cfg)
	_ = p
	if s.Params.Channels != 2 {
		t.Fatalf("opened with %d channels, want device maximum 2", s.Params.Channels)
	}
}

func TestErrorFormatting(t *testing.T) {
	e := &Error{Op: "start", Device: "Stereo Mix", Err: capture.ErrDeviceLost}
	if got := e.Error(); got != `pipeline start on "Stereo Mix": capture: device lost` {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(e, capture.ErrDeviceLost) {
		t.Fatal("Unwrap does not expose cause")
	}
	if got := (&Error{Op: "start", Err: errors.New("x")}).Error(); got != "pipeline start: x" {
		t.Fatalf("Error() = %q", got)
	}
}
