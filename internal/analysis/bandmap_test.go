package analysis

import (
	"errors"
	"testing"
)

func TestBandMapPartition(t *testing.T) {
	tests := []struct {
		rate, fft, bands int
		min, max         float64
	}{
		{44100, 2048, 32, 20, 0},
		{48000, 512, 64, 20, 0},
		{22050, 512, 128, 20, 0},
		{44100, 8192, 256, 20, 0},
		{48000, 1024, 16, 60, 12000},
		{44100, 512, 256, 20, 0},
	}
	for _, tt := range tests {
		m, err := NewBandMap(tt.rate, tt.fft, tt.bands, tt.min, tt.max)
		if err != nil {
			t.Fatalf("NewBandMap(%+v) error = %v", tt, err)
		}
		if m.Len() != tt.bands {
			t.Fatalf("Len() = %d, want %d", m.Len(), tt.bands)
		}
		next := m.First
		for b := 0; b < m.Len(); b++ {
			lo, hi := m.Bins(b)
			if lo != next {
				t.Fatalf("%+v band %d starts at %d, want %d", tt, b, lo, next)
			}
			if hi < lo {
				t.Fatalf("%+v band %d is empty (%d..%d)", tt, b, lo, hi)
			}
			next = hi + 1
		}
		if next != m.Last+1 {
			t.Fatalf("%+v bands end at %d, want %d", tt, next-1, m.Last)
		}
		if m.First < 1 || m.Last > tt.fft/2 {
			t.Fatalf("%+v bins %d..%d out of range", tt, m.First, m.Last)
		}
	}
}

func TestBandMapIsLogarithmic(t *testing.T) {
	m, err := NewBandMap(44100, 2048, 32, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	firstLo, firstHi := m.Bins(0)
	lastLo, lastHi := m.Bins(m.Len() - 1)
	if firstHi-firstLo >= lastHi-lastLo {
		t.Fatalf("low band width %d >= high band width %d", firstHi-firstLo+1, lastHi-lastLo+1)
	}
}

func TestBandMapBandHz(t *testing.T) {
	m, err := NewBandMap(44100, 2048, 32, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	prevHi := 0.0
	for b := 0; b < m.Len(); b++ {
		lo, hi := m.Band(b)
		if lo >= hi {
			t.Fatalf("band %d: %v >= %v", b, lo, hi)
		}
		if b > 0 && lo != prevHi {
			t.Fatalf("band %d starts at %v, previous ended at %v", b, lo, prevHi)
		}
		prevHi = hi
	}
}

func TestBandMapRejectsTooManyBands(t *testing.T) {
	if _, err := NewBandMap(44100, 512, 300, 20, 0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("error = %v, want ErrInvalidParams", err)
	}
}
