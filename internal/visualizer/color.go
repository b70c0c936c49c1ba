package visualizer

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
)

type colorProfile uint8

const (
	colorNone colorProfile = iota
	colorANSI16
	colorANSI256
	colorTrueColor
)

type rgb struct {
	R, G, B uint8
}

var (
	profileOnce sync.Once
	profile     colorProfile
	seqCache    sync.Map
)

func detectProfile() colorProfile {
	profileOnce.Do(func() {
		profile = profileFromEnv(os.LookupEnv)
	})
	return profile
}

func profileFromEnv(lookup func(string) (string, bool)) colorProfile {
	if _, disabled := lookup("NO_COLOR"); disabled {
		return colorNone
	}
	term, _ := lookup("TERM")
	colorTerm, _ := lookup("COLORTERM")
	term = strings.ToLower(term)
	colorTerm = strings.ToLower(colorTerm)
	switch {
	case strings.Contains(colorTerm, "truecolor"), strings.Contains(colorTerm, "24bit"):
		return colorTrueColor
	case strings.Contains(term, "256color"):
		return colorANSI256
	case term == "", term == "dumb":
		return colorNone
	}
	return colorANSI16
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp(a, b rgb, t float64) rgb {
	t = clamp01(t)
	return rgb{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
	}
}

var heatStops = []rgb{
	{16, 25, 70},
	{0, 174, 255},
	{20, 255, 161},
	{255, 230, 92},
	{255, 80, 60},
}

// heat maps 0..1 from deep blue through green and yellow to red.
func heat(t float64) rgb {
	t = clamp01(t) * float64(len(heatStops)-1)
	i := int(t)
	if i >= len(heatStops)-1 {
		return heatStops[len(heatStops)-1]
	}
	return lerp(heatStops[i], heatStops[i+1], t-float64(i))
}

// pen writes color escapes, skipping repeats of the current color.
type pen struct {
	profile colorProfile
	current uint32
}

const noColor = ^uint32(0)

func newPen(p colorProfile) pen {
	return pen{profile: p, current: noColor}
}

func (p *pen) set(sb *strings.Builder, c rgb) {
	if p.profile == colorNone {
		return
	}
	key := uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
	if key == p.current {
		return
	}
	sb.WriteString(sequence(p.profile, c))
	p.current = key
}

func (p *pen) reset(sb *strings.Builder) {
	if p.profile == colorNone || p.current == noColor {
		return
	}
	sb.WriteString("\x1b[0m")
	p.current = noColor
}

var ansi16 = []rgb{
	{0, 0, 0},
	{205, 49, 49},
	{13, 188, 121},
	{229, 229, 16},
	{36, 114, 200},
	{188, 63, 188},
	{17, 168, 205},
	{229, 229, 229},
}

func sequence(p colorProfile, c rgb) string {
	key := uint32(p)<<24 | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
	if seq, ok := seqCache.Load(key); ok {
		return seq.(string)
	}

	var seq string
	switch p {
	case colorTrueColor:
		seq = fmt.Sprintf("\x1b[38;2;%d;%d;%dm", c.R, c.G, c.B)
	case colorANSI256:
		r := int(c.R) * 5 / 255
		g := int(c.G) * 5 / 255
		b := int(c.B) * 5 / 255
		seq = fmt.Sprintf("\x1b[38;5;%dm", 16+36*r+6*g+b)
	case colorANSI16:
		best, bestDist := 0, math.MaxFloat64
		for i, q := range ansi16 {
			dr := float64(c.R) - float64(q.R)
			dg := float64(c.G) - float64(q.G)
			db := float64(c.B) - float64(q.B)
			if d := dr*dr + dg*dg + db*db; d < bestDist {
				best, bestDist = i, d
			}
		}
		seq = fmt.Sprintf("\x1b[%dm", 30+best)
	}

	seqCache.Store(key, seq)
	return seq
}
