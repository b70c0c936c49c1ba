package visualizer

import (
	"fmt"
	"strings"
)

var meterLabels = [3]string{"lo ", "mid", "hi "}

// Meter renders low, mid and high thirds of the spectrum as horizontal bars
// with peak hold.
type Meter struct {
	peaks   [3]float64
	profile colorProfile
}

func NewMeter() *Meter {
	return &Meter{profile: detectProfile()}
}

func (m *Meter) Name() string { return "meter" }

const peakDecay = 0.02

func (m *Meter) Render(bands []float64, width, height int) string {
	levels := thirds(bands)
	for i, v := range levels {
		if v > m.peaks[i] {
			m.peaks[i] = v
		} else {
			m.peaks[i] = max(m.peaks[i]-peakDecay, 0)
		}
	}

	barWidth := max(width-6, 10)
	var sb strings.Builder
	if height >= 5 {
		sb.WriteString("\n")
	}
	for i, v := range levels {
		if i > 0 {
			sb.WriteString("\n")
			if height >= 6 {
				sb.WriteString("\n")
			}
		}
		fmt.Fprintf(&sb, " %s %s", meterLabels[i], m.bar(v, m.peaks[i], barWidth))
	}
	return sb.String()
}

// thirds averages the lower, middle and upper thirds of bands.
func thirds(bands []float64) [3]float64 {
	var out [3]float64
	n := len(bands)
	if n == 0 {
		return out
	}
	for i := range 3 {
		lo, hi := i*n/3, (i+1)*n/3
		if hi <= lo {
			hi = min(lo+1, n)
		}
		if lo >= n {
			continue
		}
		sum := 0.0
		for _, v := range bands[lo:hi] {
			sum += clamp01(v)
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

func (m *Meter) bar(level, peak float64, width int) string {
	filled := int(clamp01(level) * float64(width))
	peakPos := min(int(clamp01(peak)*float64(width)), width-1)

	var sb strings.Builder
	p := newPen(m.profile)
	for i := range width {
		ch := '─'
		switch {
		case i < filled:
			ch = '█'
		case i == peakPos && peakPos > 0:
			ch = '│'
		}
		switch {
		case ch == '│':
			p.set(&sb, rgb{255, 252, 210})
		case i < width*6/10:
			p.set(&sb, rgb{60, 224, 116})
		case i < width*8/10:
			p.set(&sb, rgb{240, 198, 72})
		default:
			p.set(&sb, rgb{242, 96, 86})
		}
		sb.WriteRune(ch)
	}
	p.reset(&sb)
	return sb.String()
}
