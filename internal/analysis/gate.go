package analysis

import "math"

// Default gate thresholds, as RMS of the mono frame, and hold in frames.
const (
	DefaultGateOn   = 0.0008
	DefaultGateOff  = 0.0004
	DefaultGateHold = 45
)

// Gate suppresses output during silence. It opens as soon as the frame RMS
// reaches On and closes after Hold consecutive frames below Off.
type Gate struct {
	On   float64
	Off  float64
	Hold int

	open  bool
	quiet int
}

// NewGate returns a closed gate.
func NewGate(on, off float64, hold int) *Gate {
	if off > on {
		off = on
	}
	return &Gate{On: on, Off: off, Hold: max(hold, 0)}
}

// Update feeds one mono frame and reports whether output should pass.
func (g *Gate) Update(mono []float64) bool {
	r := RMS(mono)
	switch {
	case r >= g.On:
		g.open = true
		g.quiet = 0
	case r < g.Off:
		g.quiet++
		if g.quiet >= g.Hold {
			g.open = false
		}
	default:
		g.quiet = 0
	}
	return g.open
}

// Open reports the current gate state.
func (g *Gate) Open() bool { return g.open }

// Reset closes the gate.
func (g *Gate) Reset() {
	g.open = false
	g.quiet = 0
}

// RMS returns the root mean square of the finite samples in x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
