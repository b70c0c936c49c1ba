// Package config defines the bandviz configuration schema and its defaults.
package config

import (
	"log/slog"
	"time"

	"github.com/olivier-w/bandviz/internal/analysis"
	"github.com/olivier-w/bandviz/internal/downmix"
	"github.com/olivier-w/bandviz/internal/smoothing"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Backend names a capture backend.
type Backend string

const (
	BackendHW    Backend = "hw"
	BackendPulse Backend = "pulse"
	BackendFile  Backend = "file"
)

// IsValid reports whether b is a known backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendHW, BackendPulse, BackendFile:
		return true
	}
	return false
}

// Config is the top-level configuration. It is treated as immutable once a
// pipeline session starts.
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Downmix   DownmixConfig   `yaml:"downmix"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Render    RenderConfig    `yaml:"render"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AudioConfig selects and opens the capture source.
type AudioConfig struct {
	Backend Backend `yaml:"backend"`

	// Device pins a device by exact ID or name. Empty selects automatically.
	Device string `yaml:"device"`

	// LoopbackHints are preferred device name fragments, best first.
	LoopbackHints []string `yaml:"loopback_hints"`

	// FallbackToDefault opens the default input when no loopback source
	// is found.
	FallbackToDefault bool `yaml:"fallback_to_default"`

	SampleRate int `yaml:"sample_rate"`

	// Channels requested from the device. 0 uses the device maximum,
	// capped at MaxChannels.
	Channels  int `yaml:"channels"`
	BlockSize int `yaml:"block_size"`

	// Files, Monitor and Loop apply to the file backend only.
	Files   []string `yaml:"files"`
	Monitor bool     `yaml:"monitor"`
	Loop    bool     `yaml:"loop"`
}

// AnalysisConfig controls the spectral analyzer.
type AnalysisConfig struct {
	FFTSize    int        `yaml:"fft_size"`
	BandCount  int        `yaml:"band_count"`
	MinFreq    float64    `yaml:"min_freq"`
	MaxFreq    float64    `yaml:"max_freq"`
	Window     string     `yaml:"window"`
	Aggregate  string     `yaml:"aggregate"`
	NoiseFloor float64    `yaml:"noise_floor"`
	Gain       float64    `yaml:"gain"`
	Gate       GateConfig `yaml:"gate"`
}

// GateConfig controls the silence gate.
type GateConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RMSOn      float64 `yaml:"rms_on"`
	RMSOff     float64 `yaml:"rms_off"`
	HoldFrames int     `yaml:"hold_frames"`
}

// SmoothingConfig controls the temporal filter.
type SmoothingConfig struct {
	Mode            string  `yaml:"mode"`
	Decay           float64 `yaml:"decay"`
	FalloffRate     float64 `yaml:"falloff_rate"`
	FalloffAccel    float64 `yaml:"falloff_accel"`
	Blend           float64 `yaml:"blend"`
	SpringFrequency float64 `yaml:"spring_frequency"`
	SpringDamping   float64 `yaml:"spring_damping"`
}

// DownmixConfig controls channel weighting.
type DownmixConfig struct {
	RearBoost    float64   `yaml:"rear_boost"`
	LFEWeight    float64   `yaml:"lfe_weight"`
	CenterWeight float64   `yaml:"center_weight"`
	Weights      []float64 `yaml:"weights"`
}

// RecoveryConfig controls reconnection after device loss.
type RecoveryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// StallTimeout treats a stream that delivers nothing for this long as
	// lost. Zero disables the watchdog.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// RenderConfig controls the consumer frame rate.
type RenderConfig struct {
	FPS int `yaml:"fps"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MaxChannels caps the channel count requested from a device.
const MaxChannels = 8

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			Backend:           BackendHW,
			LoopbackHints:     []string{"stereo mix", "loopback", "monitor"},
			FallbackToDefault: true,
			SampleRate:        44100,
			BlockSize:         1024,
			Loop:              true,
		},
		Analysis: AnalysisConfig{
			FFTSize:    analysis.DefaultFFTSize,
			BandCount:  analysis.DefaultBandCount,
			MinFreq:    analysis.DefaultMinFreq,
			Window:     string(analysis.Hann),
			Aggregate:  string(analysis.AggregateRMS),
			NoiseFloor: analysis.DefaultNoiseFloor,
			Gain:       analysis.DefaultGain,
			Gate: GateConfig{
				Enabled:    true,
				RMSOn:      analysis.DefaultGateOn,
				RMSOff:     analysis.DefaultGateOff,
				HoldFrames: analysis.DefaultGateHold,
			},
		},
		Smoothing: SmoothingConfig{
			Mode:            string(smoothing.ModeCava),
			Decay:           smoothing.DefaultDecay,
			FalloffRate:     smoothing.DefaultFalloffRate,
			Blend:           smoothing.DefaultBlend,
			SpringFrequency: smoothing.DefaultSpringFrequency,
			SpringDamping:   smoothing.DefaultSpringDamping,
		},
		Downmix: DownmixConfig{
			RearBoost:    downmix.DefaultRearBoost,
			LFEWeight:    downmix.DefaultLFEWeight,
			CenterWeight: downmix.DefaultCenterWeight,
		},
		Recovery: RecoveryConfig{
			MaxRetries:   5,
			Backoff:      250 * time.Millisecond,
			MaxBackoff:   5 * time.Second,
			StallTimeout: 2 * time.Second,
		},
		Render: RenderConfig{FPS: 60},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Audio.LoopbackHints = append([]string(nil), c.Audio.LoopbackHints...)
	out.Audio.Files = append([]string(nil), c.Audio.Files...)
	out.Downmix.Weights = append([]float64(nil), c.Downmix.Weights...)
	return &out
}

// AnalysisParams returns analyzer parameters for a stream at sampleRate.
func (c *Config) AnalysisParams(sampleRate int) analysis.Params {
	return analysis.Params{
		SampleRate: sampleRate,
		FFTSize:    c.Analysis.FFTSize,
		BandCount:  c.Analysis.BandCount,
		MinFreq:    c.Analysis.MinFreq,
		MaxFreq:    c.Analysis.MaxFreq,
		NoiseFloor: c.Analysis.NoiseFloor,
		Gain:       c.Analysis.Gain,
		Window:     analysis.WindowKind(c.Analysis.Window),
		Aggregate:  analysis.AggregateKind(c.Analysis.Aggregate),
	}
}

// SmoothingParams returns temporal filter parameters.
func (c *Config) SmoothingParams() smoothing.Params {
	return smoothing.Params{
		Mode:            smoothing.Mode(c.Smoothing.Mode),
		Decay:           c.Smoothing.Decay,
		FalloffRate:     c.Smoothing.FalloffRate,
		FalloffAccel:    c.Smoothing.FalloffAccel,
		Blend:           c.Smoothing.Blend,
		SpringFrequency: c.Smoothing.SpringFrequency,
		SpringDamping:   c.Smoothing.SpringDamping,
		StepRate:        float64(c.Audio.SampleRate) / float64(c.Audio.BlockSize),
	}
}

// DownmixOptions returns downmixer options.
func (c *Config) DownmixOptions() downmix.Options {
	return downmix.Options{
		RearBoost:    c.Downmix.RearBoost,
		LFEWeight:    c.Downmix.LFEWeight,
		CenterWeight: c.Downmix.CenterWeight,
		Weights:      c.Downmix.Weights,
	}
}
