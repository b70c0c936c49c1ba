package file

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Only one oto context may exist per process, so its format is fixed by the
// first monitored stream.
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
)

func otoContext(rate, channels int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if rate != otoRate || channels != otoChannels {
			return nil, fmt.Errorf("audio output already open at %d Hz, %d channels", otoRate, otoChannels)
		}
		return otoCtx, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	otoCtx, otoRate, otoChannels = ctx, rate, channels
	return ctx, nil
}

// monitor plays a stream through oto. The blocks handed to the callback are
// cut from the same samples oto pulls, so the picture follows the sound.
type monitor struct {
	player *oto.Player
}

func (s *stream) startMonitor() error {
	ctx, err := otoContext(s.format.SampleRate, s.format.NumChannels)
	if err != nil {
		return err
	}
	player := ctx.NewPlayer(&tap{s: s})
	player.Play()
	s.monitor = &monitor{player: player}
	return nil
}

func (m *monitor) close() {
	m.player.Pause()
	_ = m.player.Close()
}

// tap is the io.Reader oto pulls from.
type tap struct {
	s   *stream
	buf []float32
	acc []float32
	eof bool
}

func (t *tap) Read(p []byte) (int, error) {
	s := t.s
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed || t.eof {
		return 0, io.EOF
	}

	ch := s.format.NumChannels
	need := len(p) / (4 * ch) * ch
	if need == 0 {
		return 0, nil
	}
	if cap(t.buf) < need {
		t.buf = make([]float32, need)
	}
	n, err := s.src.read(t.buf[:need])
	for i, v := range t.buf[:n] {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}

	t.acc = append(t.acc, t.buf[:n]...)
	size := s.block * ch
	k := 0
	for ; len(t.acc)-k >= size; k += size {
		s.emitLocked(t.acc[k : k+size])
	}
	t.acc = append(t.acc[:0], t.acc[k:]...)

	if err != nil {
		s.emitLocked(t.acc)
		t.acc = t.acc[:0]
		t.eof = true
		s.end(err)
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n * 4, nil
}
