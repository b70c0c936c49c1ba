// Package downmix folds interleaved multichannel blocks into one mono signal.
//
// Weights follow the WAVE channel order. Every channel starts at
// 1/sqrt(channels) so that uncorrelated content keeps its energy, then each
// role is scaled: rear and side channels by RearBoost, LFE by LFEWeight and
// center by CenterWeight. Rear content is typically quieter than the fronts
// in game and film mixes, so the boost keeps it visible.
package downmix

import (
	"math"

	"github.com/olivier-w/bandviz/internal/capture"
)

// Role is a speaker position.
type Role uint8

const (
	Front Role = iota
	Center
	LFE
	Rear
	Side
)

// Options configures a Downmixer. Zero values take the defaults.
type Options struct {
	RearBoost float64
	// LFEWeight below zero mutes the LFE channel.
	LFEWeight    float64
	CenterWeight float64
	// Weights overrides the layout table when its length equals the
	// channel count of a block.
	Weights []float64
}

const (
	DefaultRearBoost    = 1.5
	DefaultLFEWeight    = 1.0
	DefaultCenterWeight = 1.0
)

// Layout returns the speaker roles for a channel count in WAVE order.
// Unknown counts are treated as all front channels.
func Layout(channels int) []Role {
	switch channels {
	case 1:
		return []Role{Center}
	case 2:
		return []Role{Front, Front}
	case 3:
		return []Role{Front, Front, Center}
	case 4:
		return []Role{Front, Front, Rear, Rear}
	case 5:
		return []Role{Front, Front, Center, Rear, Rear}
	case 6:
		return []Role{Front, Front, Center, LFE, Rear, Rear}
	case 8:
		return []Role{Front, Front, Center, LFE, Rear, Rear, Side, Side}
	}
	roles := make([]Role, max(channels, 0))
	for i := range roles {
		roles[i] = Front
	}
	return roles
}

// Downmixer converts blocks to mono. Weight tables are cached per channel
// count, so after warm-up Downmix does not allocate when dst has capacity.
type Downmixer struct {
	opts  Options
	cache map[int][]float64
}

// New returns a Downmixer with defaults applied to zero options.
func New(opts Options) *Downmixer {
	if opts.RearBoost <= 0 {
		opts.RearBoost = DefaultRearBoost
	}
	if opts.LFEWeight < 0 {
		opts.LFEWeight = 0
	} else if opts.LFEWeight == 0 {
		opts.LFEWeight = DefaultLFEWeight
	}
	if opts.CenterWeight <= 0 {
		opts.CenterWeight = DefaultCenterWeight
	}
	if len(opts.Weights) > 0 {
		opts.Weights = append([]float64(nil), opts.Weights...)
	}
	return &Downmixer{opts: opts, cache: make(map[int][]float64)}
}

// Weights returns a copy of the weight table used for blocks with the given
// channel count.
func (d *Downmixer) Weights(channels int) []float64 {
	return append([]float64(nil), d.weights(channels)...)
}

func (d *Downmixer) weights(channels int) []float64 {
	if w, ok := d.cache[channels]; ok {
		return w
	}
	var w []float64
	switch {
	case channels <= 0:
	case len(d.opts.Weights) == channels:
		w = append([]float64(nil), d.opts.Weights...)
	case channels == 1:
		w = []float64{1}
	default:
		base := 1 / math.Sqrt(float64(channels))
		roles := Layout(channels)
		w = make([]float64, channels)
		for i, r := range roles {
			w[i] = base * d.scale(r)
		}
	}
	d.cache[channels] = w
	return w
}

func (d *Downmixer) scale(r Role) float64 {
	switch r {
	case Center:
		return d.opts.CenterWeight
	case LFE:
		return d.opts.LFEWeight
	case Rear, Side:
		return d.opts.RearBoost
	}
	return 1
}

// Downmix writes one mono sample per frame of b into dst, growing it if
// needed, and returns the filled slice. Non-finite samples count as silence.
// Output is not clipped.
func (d *Downmixer) Downmix(b capture.Block, dst []float64) []float64 {
	ch := b.Format.NumChannels
	frames := b.Frames()
	if cap(dst) < frames {
		dst = make([]float64, frames)
	}
	dst = dst[:frames]
	if frames == 0 {
		return dst
	}
	w := d.weights(ch)
	for t := 0; t < frames; t++ {
		frame := b.Samples[t*ch : t*ch+ch]
		var sum float64
		for c, s := range frame {
			v := float64(s)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v * w[c]
		}
		dst[t] = sum
	}
	return dst
}
