// Package visualizer draws smoothed band vectors as terminal art.
package visualizer

// Visualizer renders one frame of band levels. Levels are nominally 0..1;
// values outside that range are clamped.
type Visualizer interface {
	Name() string
	Render(bands []float64, width, height int) string
}

// Modes returns all available visualizers in cycle order.
func Modes() []Visualizer {
	return []Visualizer{
		NewBars(),
		NewWaterfall(),
		NewMeter(),
	}
}

// resample stretches or squeezes bands to n columns by linear interpolation.
func resample(bands []float64, n int, dst []float64) []float64 {
	dst = dst[:0]
	if len(bands) == 0 {
		for range n {
			dst = append(dst, 0)
		}
		return dst
	}
	den := n - 1
	if den < 1 {
		den = 1
	}
	last := len(bands) - 1
	for c := range n {
		pos := float64(c) / float64(den) * float64(last)
		lo := int(pos)
		hi := min(lo+1, last)
		t := pos - float64(lo)
		dst = append(dst, clamp01(bands[lo]*(1-t)+bands[hi]*t))
	}
	return dst
}
