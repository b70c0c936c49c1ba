package file

import (
	"fmt"
	"io"
)

// resampler wraps a decoder and presents it at a fixed output rate using
// linear interpolation. The channel count is unchanged.
type resampler struct {
	src         decoder
	passthrough bool
	srcRate     int
	dstRate     int
	channels    int

	// posNum is the read position in source frames, scaled by dstRate.
	posNum int64

	frames []float32 // buffered source samples, starting at frame base
	base   int64
	tmp    []float32
	eof    bool
}

func newResampler(src decoder, rate int) (*resampler, error) {
	if src.SampleRate() <= 0 {
		return nil, fmt.Errorf("unsupported sample rate: %d", src.SampleRate())
	}
	if src.Channels() < 1 {
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}
	return &resampler{
		src:         src,
		passthrough: src.SampleRate() == rate,
		srcRate:     src.SampleRate(),
		dstRate:     rate,
		channels:    src.Channels(),
	}, nil
}

func (r *resampler) SampleRate() int { return r.dstRate }
func (r *resampler) Channels() int   { return r.channels }
func (r *resampler) Close() error    { return r.src.Close() }

func (r *resampler) Rewind() error {
	r.posNum = 0
	r.frames = r.frames[:0]
	r.base = 0
	r.eof = false
	return r.src.Rewind()
}

func (r *resampler) Read(dst []float32) (int, error) {
	if r.passthrough {
		return r.src.Read(dst)
	}
	ch := r.channels
	want := len(dst) / ch
	n := 0
	for n < want {
		i := r.posNum / int64(r.dstRate)
		if err := r.fill(i + 1); err != nil {
			return n * ch, err
		}
		end := r.base + int64(len(r.frames)/ch)
		if i >= end {
			break
		}
		j := i + 1
		if j >= end {
			j = i
		}
		frac := float32(r.posNum%int64(r.dstRate)) / float32(r.dstRate)
		a := int(i-r.base) * ch
		b := int(j-r.base) * ch
		for c := range ch {
			dst[n*ch+c] = r.frames[a+c] + (r.frames[b+c]-r.frames[a+c])*frac
		}
		n++
		r.posNum += int64(r.srcRate)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n * ch, nil
}

// fill buffers source frames up to and including frame upto, discarding
// frames before upto-1.
func (r *resampler) fill(upto int64) error {
	ch := r.channels
	if keep := upto - 1; keep > r.base {
		drop := min(int(keep-r.base), len(r.frames)/ch)
		r.frames = append(r.frames[:0], r.frames[drop*ch:]...)
		r.base += int64(drop)
	}
	const chunkFrames = 2048
	if r.tmp == nil {
		r.tmp = make([]float32, chunkFrames*ch)
	}
	for !r.eof && upto >= r.base+int64(len(r.frames)/ch) {
		n, err := r.src.Read(r.tmp)
		r.frames = append(r.frames, r.tmp[:n]...)
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			return err
		}
	}
	return nil
}

// remap converts n interleaved frames from sc to dc channels. A mono source
// is copied to every output channel; otherwise channels beyond the source
// count are silent and extra source channels are dropped.
func remap(dst []float32, dc int, src []float32, sc int) {
	frames := len(src) / sc
	for f := range frames {
		in := src[f*sc : f*sc+sc]
		out := dst[f*dc : f*dc+dc]
		if sc == 1 {
			for c := range out {
				out[c] = in[0]
			}
			continue
		}
		for c := range out {
			if c < sc {
				out[c] = in[c]
			} else {
				out[c] = 0
			}
		}
	}
}
