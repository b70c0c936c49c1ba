// Package smoothing applies per-band temporal filtering to raw band vectors:
// an exponential integral, a gravity-style fall-off and their combinations.
package smoothing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidParams is returned by New and ParseMode for unusable parameters.
var ErrInvalidParams = errors.New("smoothing: invalid parameters")

// Mode selects how the integral and fall-off stages combine.
type Mode string

const (
	ModeIntegral Mode = "integral"
	ModeFalloff  Mode = "falloff"
	ModeMax      Mode = "max"
	ModeBlend    Mode = "blend"
	ModeCava     Mode = "cava"
	ModeSpring   Mode = "spring"
)

// Modes lists every mode in cycling order.
var Modes = []Mode{ModeCava, ModeIntegral, ModeFalloff, ModeMax, ModeBlend, ModeSpring}

// ParseMode accepts a mode name. Empty means cava.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return ModeCava, nil
	}
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, s)
}

// Next returns the mode after m in Modes.
func (m Mode) Next() Mode {
	for i, known := range Modes {
		if known == m {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return Modes[0]
}

// Defaults applied by config.Default. New also falls back to the spring and
// step rate defaults when those are unset.
const (
	DefaultDecay           = 0.7
	DefaultFalloffRate     = 0.03
	DefaultBlend           = 0.5
	DefaultSpringFrequency = 6.0
	DefaultSpringDamping   = 0.8
	// DefaultStepRate is one 1024-frame block at 48 kHz.
	DefaultStepRate = 48000.0 / 1024
)

// Params configures a Filter.
type Params struct {
	Mode Mode
	// Decay is the integral memory, in (0, 1).
	Decay float64
	// FalloffRate is the initial drop per step once the input falls below
	// the held peak; FalloffAccel is added to it on every further falling
	// step.
	FalloffRate  float64
	FalloffAccel float64
	// Blend weights the integral in blend mode; the fall-off gets 1-Blend.
	Blend float64

	SpringFrequency float64
	SpringDamping   float64
	// StepRate is how many vectors Smooth sees per second. The spring's
	// time step is its inverse.
	StepRate float64
}

// State is the per-band filter memory.
type State struct {
	Integral float64
	Peak     float64
	Velocity float64
}

// Filter smooths successive band vectors of a fixed length. Not safe for
// concurrent use.
type Filter struct {
	p      Params
	states []State
	spring springField
	out    []float64
}

// New returns a zeroed filter for the given band count.
func New(bands int, p Params) (*Filter, error) {
	if bands <= 0 {
		return nil, fmt.Errorf("%w: band count %d", ErrInvalidParams, bands)
	}
	mode, err := ParseMode(string(p.Mode))
	if err != nil {
		return nil, err
	}
	p.Mode = mode
	if !(p.Decay > 0 && p.Decay < 1) {
		return nil, fmt.Errorf("%w: decay %v not in (0, 1)", ErrInvalidParams, p.Decay)
	}
	if p.FalloffRate < 0 || p.FalloffAccel < 0 || math.IsNaN(p.FalloffRate) || math.IsNaN(p.FalloffAccel) {
		return nil, fmt.Errorf("%w: falloff rate %v accel %v", ErrInvalidParams, p.FalloffRate, p.FalloffAccel)
	}
	if p.Blend < 0 || p.Blend > 1 || math.IsNaN(p.Blend) {
		return nil, fmt.Errorf("%w: blend %v not in [0, 1]", ErrInvalidParams, p.Blend)
	}
	if !(p.StepRate > 0) || math.IsInf(p.StepRate, 1) {
		p.StepRate = DefaultStepRate
	}
	if p.SpringFrequency <= 0 {
		p.SpringFrequency = DefaultSpringFrequency
	}
	if p.SpringDamping <= 0 {
		p.SpringDamping = DefaultSpringDamping
	}

	f := &Filter{
		p:      p,
		states: make([]State, bands),
		out:    make([]float64, bands),
	}
	if p.Mode == ModeSpring {
		f.spring = newSpringField(p.StepRate, p.SpringFrequency, p.SpringDamping)
		f.spring.resize(bands)
	}
	return f, nil
}

// Params returns the effective parameters.
func (f *Filter) Params() Params { return f.p }

// Len returns the band count.
func (f *Filter) Len() int { return len(f.states) }

// Smooth advances the filter by one step and returns the smoothed vector.
// The returned slice is reused by the next call. Missing trailing values in
// raw are treated as zero.
func (f *Filter) Smooth(raw []float64) []float64 {
	for i := range f.states {
		var x float64
		if i < len(raw) {
			x = sanitize(raw[i])
		}
		st := &f.states[i]

		var y float64
		switch f.p.Mode {
		case ModeIntegral:
			y = f.integrate(st, x)
		case ModeFalloff:
			y = f.fall(st, x)
		case ModeMax:
			y = math.Max(f.integrate(st, x), f.fall(st, x))
		case ModeBlend:
			y = f.p.Blend*f.integrate(st, x) + (1-f.p.Blend)*f.fall(st, x)
		case ModeCava:
			y = f.fall(st, f.integrate(st, x))
		case ModeSpring:
			y = f.spring.step(i, f.fall(st, f.integrate(st, x)))
		}
		f.out[i] = sanitize(y)
	}
	return f.out
}

func (f *Filter) integrate(st *State, x float64) float64 {
	st.Integral = st.Integral*f.p.Decay + x*(1-f.p.Decay)
	return st.Integral
}

func (f *Filter) fall(st *State, x float64) float64 {
	if x >= st.Peak {
		st.Peak = x
		st.Velocity = f.p.FalloffRate
		return st.Peak
	}
	st.Peak -= st.Velocity
	st.Velocity += f.p.FalloffAccel
	if st.Peak <= x {
		st.Peak = x
		st.Velocity = f.p.FalloffRate
	}
	return st.Peak
}

// Reset zeroes every band.
func (f *Filter) Reset() {
	for i := range f.states {
		f.states[i] = State{}
		f.out[i] = 0
	}
	f.spring.reset()
}

// States returns a copy of the per-band state.
func (f *Filter) States() []State {
	return append([]State(nil), f.states...)
}

func sanitize(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
