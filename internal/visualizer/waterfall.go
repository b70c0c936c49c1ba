package visualizer

import "strings"

var waterfallChars = []rune{' ', '.', ':', '-', '=', '+', '*', '#', '%', '@'}

// Waterfall renders a scrolling spectrogram, newest row on top.
type Waterfall struct {
	history [][]float64
	line    []float64
	profile colorProfile
}

func NewWaterfall() *Waterfall {
	return &Waterfall{profile: detectProfile()}
}

func (w *Waterfall) Name() string { return "waterfall" }

func (w *Waterfall) Render(bands []float64, width, height int) string {
	if height < 1 {
		height = 1
	}
	cols := max(width, 8)
	w.line = resample(bands, cols, w.line)

	if len(w.history) != height || len(w.history[0]) != cols {
		w.history = make([][]float64, height)
		for r := range height {
			w.history[r] = make([]float64, cols)
		}
	}
	// Rotate rows instead of copying them.
	oldest := w.history[height-1]
	copy(w.history[1:], w.history[:height-1])
	copy(oldest, w.line)
	w.history[0] = oldest

	var out strings.Builder
	p := newPen(w.profile)
	for r, row := range w.history {
		if r > 0 {
			out.WriteByte('\n')
		}
		age := float64(r) / float64(height)
		for _, v := range row {
			idx := min(int(v*float64(len(waterfallChars)-1)), len(waterfallChars)-1)
			ch := waterfallChars[idx]
			if ch != ' ' {
				p.set(&out, lerp(heat(v), rgb{18, 22, 32}, age*0.65))
			}
			out.WriteRune(ch)
		}
		p.reset(&out)
	}
	return out.String()
}
