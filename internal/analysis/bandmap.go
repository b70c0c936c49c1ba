package analysis

import (
	"fmt"
	"math"
	"strings"
)

// AggregateKind selects how bins are folded into one band value.
type AggregateKind string

const (
	AggregateRMS  AggregateKind = "rms"
	AggregateMean AggregateKind = "mean"
	AggregateMax  AggregateKind = "max"
)

// ParseAggregate accepts an aggregate name. Empty means RMS.
func ParseAggregate(s string) (AggregateKind, error) {
	switch k := AggregateKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return AggregateRMS, nil
	case AggregateRMS, AggregateMean, AggregateMax:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown aggregate %q", ErrInvalidParams, s)
}

// BandMap assigns contiguous FFT bin ranges to bands on a logarithmic
// frequency scale. Every bin in [First, Last] belongs to exactly one band and
// no band is empty.
type BandMap struct {
	First, Last int
	binHz       float64
	lo          []int // first bin of each band; band i ends at lo[i+1]-1
}

// NewBandMap builds the map for an fftSize-point transform at sampleRate.
// maxFreq <= 0 means Nyquist.
func NewBandMap(sampleRate, fftSize, bands int, minFreq, maxFreq float64) (*BandMap, error) {
	if sampleRate <= 0 || fftSize < 2 || bands <= 0 {
		return nil, fmt.Errorf("%w: rate=%d fft=%d bands=%d", ErrInvalidParams, sampleRate, fftSize, bands)
	}
	nyquist := float64(sampleRate) / 2
	if maxFreq <= 0 || maxFreq > nyquist {
		maxFreq = nyquist
	}
	if minFreq <= 0 {
		minFreq = DefaultMinFreq
	}
	if minFreq >= maxFreq {
		return nil, fmt.Errorf("%w: min_freq %.1f >= max_freq %.1f", ErrInvalidParams, minFreq, maxFreq)
	}

	binHz := float64(sampleRate) / float64(fftSize)
	nyqBin := fftSize / 2
	first := max(1, int(math.Round(minFreq/binHz)))
	last := min(nyqBin, int(math.Floor(maxFreq/binHz)))
	if last < first {
		return nil, fmt.Errorf("%w: no FFT bins between %.1f and %.1f Hz", ErrInvalidParams, minFreq, maxFreq)
	}
	if avail := last - first + 1; bands > avail {
		return nil, fmt.Errorf("%w: %d bands exceed %d available bins", ErrInvalidParams, bands, avail)
	}

	lo := make([]int, bands+1)
	ratio := maxFreq / minFreq
	for i := 0; i < bands; i++ {
		f := minFreq * math.Pow(ratio, float64(i)/float64(bands))
		lo[i] = int(math.Round(f / binHz))
	}
	lo[0] = first
	lo[bands] = last + 1

	// Narrow low bands collapse onto the same bin; push each edge to the next
	// unused bin, then pull edges back under the top so the last bands fit.
	for i := 1; i < bands; i++ {
		if lo[i] <= lo[i-1] {
			lo[i] = lo[i-1] + 1
		}
	}
	for i := bands - 1; i > 0; i-- {
		if lo[i] >= lo[i+1] {
			lo[i] = lo[i+1] - 1
		}
	}

	return &BandMap{First: first, Last: last, binHz: binHz, lo: lo}, nil
}

// Len returns the band count.
func (m *BandMap) Len() int { return len(m.lo) - 1 }

// Bins returns the inclusive bin range of band i.
func (m *BandMap) Bins(i int) (lo, hi int) {
	return m.lo[i], m.lo[i+1] - 1
}

// Band returns the frequency span of band i in Hz, from the lower edge of its
// first bin to the upper edge of its last.
func (m *BandMap) Band(i int) (loHz, hiHz float64) {
	lo, hi := m.Bins(i)
	return (float64(lo) - 0.5) * m.binHz, (float64(hi) + 0.5) * m.binHz
}

// Aggregate folds mags into dst, one value per band.
func (m *BandMap) Aggregate(kind AggregateKind, mags, dst []float64) {
	for b := 0; b < m.Len(); b++ {
		lo, hi := m.Bins(b)
		var acc float64
		switch kind {
		case AggregateMax:
			for _, v := range mags[lo : hi+1] {
				acc = math.Max(acc, v)
			}
		case AggregateMean:
			for _, v := range mags[lo : hi+1] {
				acc += v
			}
			acc /= float64(hi - lo + 1)
		default:
			for _, v := range mags[lo : hi+1] {
				acc += v * v
			}
			acc = math.Sqrt(acc / float64(hi-lo+1))
		}
		dst[b] = acc
	}
}
