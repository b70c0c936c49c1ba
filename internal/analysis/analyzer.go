// Package analysis turns mono sample frames into per-band magnitudes:
// window, real FFT, logarithmic band mapping, noise floor and gain.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrInvalidParams is returned by New for unusable parameters.
var ErrInvalidParams = errors.New("analysis: invalid parameters")

// Defaults New applies to unset parameters.
const (
	DefaultFFTSize    = 2048
	DefaultBandCount  = 32
	DefaultMinFreq    = 20.0
	DefaultNoiseFloor = 0.0005
	DefaultGain       = 40.0

	// FFT sizes outside this range are rejected.
	MinFFTSize = 512
	MaxFFTSize = 8192
)

// Params configures an Analyzer.
type Params struct {
	SampleRate int
	FFTSize    int
	BandCount  int
	MinFreq    float64
	MaxFreq    float64 // <= 0 means Nyquist
	NoiseFloor float64
	Gain       float64
	Window     WindowKind
	Aggregate  AggregateKind
}

// Analyzer is not safe for concurrent use. Buffers are allocated once in New.
type Analyzer struct {
	p      Params
	bands  *BandMap
	fft    *fourier.FFT
	window []float64
	frame  []float64
	coeffs []complex128
	mags   []float64
	out    []float64
}

// New validates p and precomputes the window, transform plan and band map.
func New(p Params) (*Analyzer, error) {
	if p.FFTSize < MinFFTSize || p.FFTSize > MaxFFTSize || p.FFTSize&(p.FFTSize-1) != 0 {
		return nil, fmt.Errorf("%w: fft size %d must be a power of two in [%d, %d]", ErrInvalidParams, p.FFTSize, MinFFTSize, MaxFFTSize)
	}
	if p.NoiseFloor < 0 || math.IsNaN(p.NoiseFloor) {
		return nil, fmt.Errorf("%w: noise floor %v", ErrInvalidParams, p.NoiseFloor)
	}
	if p.Gain <= 0 || math.IsInf(p.Gain, 0) || math.IsNaN(p.Gain) {
		return nil, fmt.Errorf("%w: gain %v", ErrInvalidParams, p.Gain)
	}
	if p.Window == "" {
		p.Window = Hann
	}
	if _, err := ParseWindow(string(p.Window)); err != nil {
		return nil, err
	}
	if p.Aggregate == "" {
		p.Aggregate = AggregateRMS
	}
	if _, err := ParseAggregate(string(p.Aggregate)); err != nil {
		return nil, err
	}
	bm, err := NewBandMap(p.SampleRate, p.FFTSize, p.BandCount, p.MinFreq, p.MaxFreq)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		p:      p,
		bands:  bm,
		fft:    fourier.NewFFT(p.FFTSize),
		window: coefficients(p.Window, p.FFTSize),
		frame:  make([]float64, p.FFTSize),
		coeffs: make([]complex128, p.FFTSize/2+1),
		mags:   make([]float64, p.FFTSize/2+1),
		out:    make([]float64, p.BandCount),
	}, nil
}

// Params returns the effective parameters.
func (a *Analyzer) Params() Params { return a.p }

// BandCount returns the length of vectors returned by Analyze.
func (a *Analyzer) BandCount() int { return a.bands.Len() }

// Band returns the frequency span of band i in Hz.
func (a *Analyzer) Band(i int) (loHz, hiHz float64) { return a.bands.Band(i) }

// Bins returns the inclusive FFT bin range of band i.
func (a *Analyzer) Bins(i int) (lo, hi int) { return a.bands.Bins(i) }

// Analyze computes band magnitudes for the most recent FFTSize samples of
// mono. Shorter input is zero padded at the front. The returned slice is
// reused by the next call.
func (a *Analyzer) Analyze(mono []float64) []float64 {
	n := a.p.FFTSize
	if len(mono) > n {
		mono = mono[len(mono)-n:]
	}
	pad := n - len(mono)
	for i := 0; i < pad; i++ {
		a.frame[i] = 0
	}
	for i, v := range mono {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.frame[pad+i] = v * a.window[pad+i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)
	norm := float64(n) / 2
	for i, c := range a.coeffs {
		a.mags[i] = math.Hypot(real(c), imag(c)) / norm
	}

	a.bands.Aggregate(a.p.Aggregate, a.mags, a.out)
	for i, v := range a.out {
		v -= a.p.NoiseFloor
		if v < 0 || math.IsNaN(v) {
			v = 0
		}
		v *= a.p.Gain
		if math.IsInf(v, 0) {
			v = 0
		}
		a.out[i] = v
	}
	return a.out
}
