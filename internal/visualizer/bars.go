package visualizer

import "strings"

var barChars = []rune(" ▁▂▃▄▅▆▇█")

// Bars renders one vertical bar per band, colored by height.
type Bars struct {
	profile colorProfile
	cols    []float64
}

func NewBars() *Bars {
	return &Bars{profile: detectProfile()}
}

func (b *Bars) Name() string { return "bars" }

func (b *Bars) Render(bands []float64, width, height int) string {
	if height < 1 {
		height = 1
	}
	if width < 1 {
		width = 1
	}

	n := len(bands)
	colWidth, gap := 1, 0
	switch {
	case n == 0:
		n = width
	case n > width:
		n = width
	default:
		colWidth = width / n
		if colWidth > 2 {
			gap = 1
		}
	}
	b.cols = resample(bands, n, b.cols)

	var out strings.Builder
	p := newPen(b.profile)
	for row := range height {
		if row > 0 {
			out.WriteByte('\n')
		}
		fromBottom := float64(height - 1 - row)
		p.set(&out, heat((fromBottom+1)/float64(height)))
		for c, v := range b.cols {
			if c > 0 && gap > 0 {
				out.WriteByte(' ')
			}
			level := v * float64(height)
			idx := 0
			switch {
			case level >= fromBottom+1:
				idx = len(barChars) - 1
			case level > fromBottom:
				idx = int((level - fromBottom) * float64(len(barChars)-1))
			}
			ch := barChars[idx]
			for range colWidth - gap {
				out.WriteRune(ch)
			}
		}
		p.reset(&out)
	}
	return out.String()
}
