package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowKind selects the analysis window.
type WindowKind string

const (
	Hann           WindowKind = "hann"
	Hamming        WindowKind = "hamming"
	Blackman       WindowKind = "blackman"
	BlackmanHarris WindowKind = "blackman-harris"
)

// ParseWindow accepts a window name, case-insensitively. Empty means Hann.
func ParseWindow(s string) (WindowKind, error) {
	switch k := WindowKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return Hann, nil
	case Hann, Hamming, Blackman, BlackmanHarris:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown window %q", ErrInvalidParams, s)
}

// coefficients returns the window of length n.
func coefficients(kind WindowKind, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	switch kind {
	case Hamming:
		return window.Hamming(w)
	case Blackman:
		return window.Blackman(w)
	case BlackmanHarris:
		return window.BlackmanHarris(w)
	default:
		return window.Hann(w)
	}
}
