package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/olivier-w/bandviz/internal/analysis"
	"github.com/olivier-w/bandviz/internal/smoothing"
)

// ErrInvalidConfiguration matches every error returned by Validate.
var ErrInvalidConfiguration = errors.New("invalid configuration")

var validSampleRates = []int{22050, 44100, 48000}

// Load reads the YAML file at path over Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default and validates the result.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...)
}

// Validate checks that cfg is coherent. It returns every problem joined into
// one error; each matches ErrInvalidConfiguration.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, invalid(format, args...))
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		add("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel)
	}

	a := cfg.Audio
	if !a.Backend.IsValid() {
		add("audio.backend %q is invalid; valid values: hw, pulse, file", a.Backend)
	}
	if a.Backend == BackendFile && len(a.Files) == 0 {
		add("audio.files is required when backend is file")
	}
	if a.Monitor && a.Backend != BackendFile {
		slog.Warn("audio.monitor only applies to the file backend", "backend", a.Backend)
	}
	rateOK := false
	for _, r := range validSampleRates {
		rateOK = rateOK || a.SampleRate == r
	}
	if !rateOK {
		add("audio.sample_rate %d is invalid; valid values: %v", a.SampleRate, validSampleRates)
	}
	if a.Channels < 0 || a.Channels > MaxChannels {
		add("audio.channels %d is out of range [0, %d]", a.Channels, MaxChannels)
	}
	if a.BlockSize < 64 || a.BlockSize > 16384 {
		add("audio.block_size %d is out of range [64, 16384]", a.BlockSize)
	}

	an := cfg.Analysis
	fftOK := an.FFTSize >= analysis.MinFFTSize && an.FFTSize <= analysis.MaxFFTSize && an.FFTSize&(an.FFTSize-1) == 0
	if !fftOK {
		add("analysis.fft_size %d must be a power of two in [%d, %d]", an.FFTSize, analysis.MinFFTSize, analysis.MaxFFTSize)
	}
	if an.BandCount <= 0 {
		add("analysis.band_count %d must be positive", an.BandCount)
	}
	if !(an.MinFreq > 0) || math.IsInf(an.MinFreq, 0) {
		add("analysis.min_freq %v must be positive", an.MinFreq)
	}
	if an.MaxFreq < 0 || (an.MaxFreq > 0 && an.MaxFreq <= an.MinFreq) {
		add("analysis.max_freq %v must be 0 (Nyquist) or above min_freq", an.MaxFreq)
	}
	if fftOK && an.BandCount > 0 && an.MinFreq > 0 && rateOK {
		if _, err := analysis.NewBandMap(a.SampleRate, an.FFTSize, an.BandCount, an.MinFreq, an.MaxFreq); err != nil {
			add("analysis: %v", err)
		}
	}
	if _, err := analysis.ParseWindow(an.Window); err != nil {
		add("analysis.window %q is invalid; valid values: hann, hamming, blackman, blackman-harris", an.Window)
	}
	if _, err := analysis.ParseAggregate(an.Aggregate); err != nil {
		add("analysis.aggregate %q is invalid; valid values: rms, mean, max", an.Aggregate)
	}
	if !nonNegative(an.NoiseFloor) {
		add("analysis.noise_floor %v must not be negative", an.NoiseFloor)
	}
	if !(an.Gain > 0) || math.IsInf(an.Gain, 0) {
		add("analysis.gain %v must be positive", an.Gain)
	}
	if g := an.Gate; g.Enabled {
		if !(g.RMSOn > 0) {
			add("analysis.gate.rms_on %v must be positive", g.RMSOn)
		}
		if g.RMSOff < 0 || g.RMSOff > g.RMSOn {
			add("analysis.gate.rms_off %v must be in [0, rms_on]", g.RMSOff)
		}
		if g.HoldFrames < 0 {
			add("analysis.gate.hold_frames %d must not be negative", g.HoldFrames)
		}
	}

	s := cfg.Smoothing
	if _, err := smoothing.ParseMode(s.Mode); err != nil {
		add("smoothing.mode %q is invalid; valid values: %v", s.Mode, smoothing.Modes)
	}
	if !(s.Decay > 0 && s.Decay < 1) {
		add("smoothing.decay %v is out of range (0, 1)", s.Decay)
	}
	if !nonNegative(s.FalloffRate) || !nonNegative(s.FalloffAccel) {
		add("smoothing.falloff_rate %v and falloff_accel %v must be finite and not negative", s.FalloffRate, s.FalloffAccel)
	}
	if !(s.Blend >= 0 && s.Blend <= 1) {
		add("smoothing.blend %v is out of range [0, 1]", s.Blend)
	}
	if !nonNegative(s.SpringFrequency) || !nonNegative(s.SpringDamping) {
		add("smoothing.spring_frequency %v and spring_damping %v must be finite and not negative", s.SpringFrequency, s.SpringDamping)
	}

	d := cfg.Downmix
	if !nonNegative(d.RearBoost) || !nonNegative(d.CenterWeight) {
		add("downmix.rear_boost and center_weight must be finite and not negative")
	}
	if math.IsNaN(d.LFEWeight) || math.IsInf(d.LFEWeight, 0) {
		add("downmix.lfe_weight %v is not finite", d.LFEWeight)
	}
	for i, w := range d.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			add("downmix.weights[%d] %v is not finite", i, w)
		}
	}
	if len(d.Weights) > MaxChannels {
		add("downmix.weights has %d entries; at most %d", len(d.Weights), MaxChannels)
	}

	r := cfg.Recovery
	if r.MaxRetries < 0 {
		add("recovery.max_retries %d must not be negative", r.MaxRetries)
	}
	if r.Backoff <= 0 {
		add("recovery.backoff %v must be positive", r.Backoff)
	}
	if r.MaxBackoff < r.Backoff {
		add("recovery.max_backoff %v is below backoff %v", r.MaxBackoff, r.Backoff)
	}
	if r.StallTimeout < 0 {
		add("recovery.stall_timeout %v must not be negative", r.StallTimeout)
	}

	if cfg.Render.FPS < 1 || cfg.Render.FPS > 240 {
		add("render.fps %d is out of range [1, 240]", cfg.Render.FPS)
	}

	return errors.Join(errs...)
}

// nonNegative reports whether v is finite and >= 0.
func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
