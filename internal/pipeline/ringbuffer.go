package pipeline

// sampleRing keeps the most recent mono samples for the analysis window.
// It is owned by the worker goroutine.
type sampleRing struct {
	buf  []float64
	size int
	w    int // write position
	len  int // current fill level
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{
		buf:  make([]float64, size),
		size: size,
	}
}

// write appends p, overwriting the oldest samples when full.
func (r *sampleRing) write(p []float64) {
	if len(p) >= r.size {
		copy(r.buf, p[len(p)-r.size:])
		r.w = 0
		r.len = r.size
		return
	}
	for _, v := range p {
		r.buf[r.w] = v
		r.w = (r.w + 1) % r.size
	}
	r.len = min(r.len+len(p), r.size)
}

// read copies the most recent min(n, filled) samples into dst in time order.
func (r *sampleRing) read(n int, dst []float64) []float64 {
	n = min(n, r.len)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	start := (r.w - n + r.size) % r.size
	for i := range n {
		dst[i] = r.buf[(start+i)%r.size]
	}
	return dst
}

func (r *sampleRing) clear() {
	r.w = 0
	r.len = 0
}
