package analysis

import (
	"errors"
	"math"
	"testing"
)

func defaultParams() Params {
	return Params{
		SampleRate: 44100,
		FFTSize:    2048,
		BandCount:  32,
		MinFreq:    DefaultMinFreq,
		NoiseFloor: DefaultNoiseFloor,
		Gain:       DefaultGain,
	}
}

func sine(freq, amp float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func mustAnalyzer(t *testing.T, p Params) *Analyzer {
	t.Helper()
	a, err := New(p)
	if err != nil {
		t.Fatalf("New(%+v) error = %v", p, err)
	}
	return a
}

func TestSilenceIsZero(t *testing.T) {
	a := mustAnalyzer(t, defaultParams())
	for _, in := range [][]float64{nil, make([]float64, 100), make([]float64, 4096)} {
		for i, v := range a.Analyze(in) {
			if v != 0 {
				t.Fatalf("band %d = %v for silence, want 0", i, v)
			}
		}
	}
}

func TestNonFiniteInputIsSilence(t *testing.T) {
	a := mustAnalyzer(t, defaultParams())
	in := make([]float64, 2048)
	in[10] = math.NaN()
	in[20] = math.Inf(1)
	in[30] = math.Inf(-1)
	for i, v := range a.Analyze(in) {
		if v != 0 {
			t.Fatalf("band %d = %v, want 0", i, v)
		}
	}
}

func TestToneDominatesHighBands(t *testing.T) {
	p := defaultParams()
	a := mustAnalyzer(t, p)
	out := a.Analyze(sine(440, 0.5, p.SampleRate, p.FFTSize))

	peak := 0
	for i, v := range out {
		if v > out[peak] {
			peak = i
		}
	}
	lo, hi := a.Band(peak)
	if lo > 440 || hi < 440 {
		t.Fatalf("peak band %d spans %.1f-%.1f Hz, want 440 Hz inside", peak, lo, hi)
	}
	for i := range out {
		if l, _ := a.Band(i); l > 5000 && out[i] >= out[peak] {
			t.Fatalf("band %d (%.0f Hz) = %v >= peak %v", i, l, out[i], out[peak])
		}
	}
	for i, v := range out {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("band %d = %v, want finite >= 0", i, v)
		}
	}
}

func TestNoiseFloorSuppressesQuietTone(t *testing.T) {
	p := defaultParams()
	p.NoiseFloor = 0.1
	a := mustAnalyzer(t, p)
	for i, v := range a.Analyze(sine(1000, 0.01, p.SampleRate, p.FFTSize)) {
		if v != 0 {
			t.Fatalf("band %d = %v, want 0 under noise floor", i, v)
		}
	}
}

func TestGainScalesLinearly(t *testing.T) {
	p := defaultParams()
	in := sine(1000, 0.3, p.SampleRate, p.FFTSize)
	a1 := mustAnalyzer(t, p)
	one := append([]float64(nil), a1.Analyze(in)...)
	p.Gain *= 2
	a2 := mustAnalyzer(t, p)
	two := a2.Analyze(in)
	for i := range one {
		if math.Abs(two[i]-2*one[i]) > 1e-9 {
			t.Fatalf("band %d: gain x2 gave %v, want %v", i, two[i], 2*one[i])
		}
	}
}

func TestAnalyzeUsesMostRecentSamples(t *testing.T) {
	p := defaultParams()
	a := mustAnalyzer(t, p)
	in := append(make([]float64, 4096), sine(440, 0.5, p.SampleRate, p.FFTSize)...)
	long := append([]float64(nil), a.Analyze(in)...)
	short := a.Analyze(in[4096:])
	for i := range long {
		if long[i] != short[i] {
			t.Fatalf("band %d differs: %v vs %v", i, long[i], short[i])
		}
	}
}

func TestAggregateKinds(t *testing.T) {
	p := defaultParams()
	in := sine(3000, 0.5, p.SampleRate, p.FFTSize)
	res := map[AggregateKind][]float64{}
	for _, k := range []AggregateKind{AggregateRMS, AggregateMean, AggregateMax} {
		p.Aggregate = k
		p.NoiseFloor = 0
		res[k] = append([]float64(nil), mustAnalyzer(t, p).Analyze(in)...)
	}
	for i := range res[AggregateMax] {
		if res[AggregateMax][i]+1e-12 < res[AggregateRMS][i] || res[AggregateRMS][i]+1e-12 < res[AggregateMean][i] {
			t.Fatalf("band %d: want max >= rms >= mean, got %v %v %v",
				i, res[AggregateMax][i], res[AggregateRMS][i], res[AggregateMean][i])
		}
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Params)
	}{
		{"fft not power of two", func(p *Params) { p.FFTSize = 1000 }},
		{"fft too small", func(p *Params) { p.FFTSize = 256 }},
		{"fft too large", func(p *Params) { p.FFTSize = 16384 }},
		{"zero bands", func(p *Params) { p.BandCount = 0 }},
		{"too many bands", func(p *Params) { p.BandCount = 2000 }},
		{"zero gain", func(p *Params) { p.Gain = 0 }},
		{"negative floor", func(p *Params) { p.NoiseFloor = -1 }},
		{"bad window", func(p *Params) { p.Window = "kaiser" }},
		{"bad aggregate", func(p *Params) { p.Aggregate = "median" }},
		{"min above max", func(p *Params) { p.MinFreq = 5000; p.MaxFreq = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mod(&p)
			if _, err := New(p); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("New() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestWindowsAllProduceFiniteOutput(t *testing.T) {
	p := defaultParams()
	in := sine(440, 0.5, p.SampleRate, p.FFTSize)
	for _, w := range []WindowKind{Hann, Hamming, Blackman, BlackmanHarris} {
		p.Window = w
		for i, v := range mustAnalyzer(t, p).Analyze(in) {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s band %d = %v", w, i, v)
			}
		}
	}
}
