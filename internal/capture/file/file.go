// Package file replays audio files as a capture source. Each file is
// presented as a loopback device; opening one plays it and the files after
// it in order, paced in real time or played through the speakers.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-audio/audio"

	"github.com/olivier-w/bandviz/internal/capture"
)

// Options configures a Backend.
type Options struct {
	// Loop restarts from the first file after the last one ends.
	Loop bool
	// Monitor plays the audio through the default output device. Only
	// mono and stereo streams can be monitored.
	Monitor bool
	Logger  *slog.Logger
}

// Backend serves a fixed list of files.
type Backend struct {
	paths []string
	opts  Options
	log   *slog.Logger
}

// New returns a backend for paths, which should already be expanded with
// ExpandSources.
func New(paths []string, opts Options) *Backend {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{
		paths: slices.Clone(paths),
		opts:  opts,
		log:   log.With("component", "capture.file"),
	}
}

func (b *Backend) Name() string { return "file" }

// Devices probes every file. Files that cannot be decoded are skipped.
func (b *Backend) Devices(ctx context.Context) ([]capture.Device, error) {
	devs := make([]capture.Device, 0, len(b.paths))
	for _, path := range b.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := openDecoder(path)
		if err != nil {
			b.log.Warn("skipping undecodable file", "path", path, "err", err)
			continue
		}
		devs = append(devs, capture.Device{
			ID:                path,
			Name:              displayName(path),
			Backend:           "file",
			Channels:          d.Channels(),
			DefaultSampleRate: float64(d.SampleRate()),
			Loopback:          true,
			Default:           len(devs) == 0,
		})
		d.Close()
	}
	return devs, nil
}

func (b *Backend) Open(ctx context.Context, dev capture.Device, p capture.StreamParams, cb capture.Callback) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := slices.Index(b.paths, dev.ID)
	if start < 0 {
		return nil, fmt.Errorf("%s: %w", dev.Name, capture.ErrNoDeviceFound)
	}
	if p.Channels < 1 || p.SampleRate <= 0 || p.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid stream params %+v", p)
	}
	pl := &playlist{
		paths:    b.paths,
		idx:      start,
		loop:     b.opts.Loop,
		rate:     p.SampleRate,
		channels: p.Channels,
		log:      b.log,
	}
	if err := pl.open(); err != nil {
		return nil, err
	}

	s := &stream{
		src:    pl,
		cb:     cb,
		format: audio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		block:  p.BlockSize,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if b.opts.Monitor {
		if p.Channels > 2 {
			b.log.Warn("monitor playback needs mono or stereo; playing silently", "channels", p.Channels)
		} else if err := s.startMonitor(); err != nil {
			b.log.Warn("monitor playback unavailable; playing silently", "err", err)
		} else {
			return s, nil
		}
	}
	go s.pace()
	return s, nil
}

// playlist reads the files in order starting at idx, converted to the
// stream rate and channel count.
type playlist struct {
	paths    []string
	idx      int
	loop     bool
	rate     int
	channels int
	log      *slog.Logger

	cur    decoder
	srcBuf []float32
	// silent counts consecutive files that ended without a single frame.
	silent   int
	produced bool
}

func (pl *playlist) open() error {
	var firstErr error
	for range pl.paths {
		path := pl.paths[pl.idx]
		d, err := openDecoder(path)
		if err == nil {
			var r *resampler
			if r, err = newResampler(d, pl.rate); err == nil {
				pl.cur = r
				pl.produced = false
				pl.log.Info("playing", "path", path)
				return nil
			}
			d.Close()
		}
		pl.log.Warn("skipping file", "path", path, "err", err)
		if firstErr == nil {
			firstErr = err
		}
		if !pl.advance() {
			break
		}
	}
	if firstErr == nil {
		firstErr = io.EOF
	}
	return fmt.Errorf("no playable file: %w", firstErr)
}

// advance moves to the next file index; false when the list is done.
func (pl *playlist) advance() bool {
	pl.idx++
	if pl.idx < len(pl.paths) {
		return true
	}
	if !pl.loop {
		return false
	}
	pl.idx = 0
	return true
}

// read fills dst with whole frames, moving across files as they end. It
// returns io.EOF once the last file has ended and looping is off.
func (pl *playlist) read(dst []float32) (int, error) {
	ch := pl.channels
	n := 0
	for n+ch <= len(dst) {
		if pl.cur == nil {
			return n, io.EOF
		}
		sc := pl.cur.Channels()
		frames := (len(dst) - n) / ch
		if cap(pl.srcBuf) < frames*sc {
			pl.srcBuf = make([]float32, frames*sc)
		}
		src := pl.srcBuf[:frames*sc]
		got, err := pl.cur.Read(src)
		if got > 0 {
			remap(dst[n:], ch, src[:got], sc)
			n += got / sc * ch
			pl.produced = true
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			pl.log.Warn("decode failed", "path", pl.paths[pl.idx], "err", err)
		} else if pl.loop && len(pl.paths) == 1 && pl.produced {
			// A single looping file restarts in place.
			rerr := pl.cur.Rewind()
			if rerr == nil {
				pl.produced = false
				continue
			}
			pl.log.Debug("rewind failed; reopening", "path", pl.paths[pl.idx], "err", rerr)
		}
		pl.cur.Close()
		pl.cur = nil
		if pl.produced {
			pl.silent = 0
		} else {
			pl.silent++
		}
		if pl.silent >= len(pl.paths) {
			return n, io.EOF
		}
		if !pl.advance() {
			return n, io.EOF
		}
		if oerr := pl.open(); oerr != nil {
			return n, oerr
		}
	}
	return n, nil
}

func (pl *playlist) close() {
	if pl.cur != nil {
		pl.cur.Close()
		pl.cur = nil
	}
}

type stream struct {
	src    *playlist
	cb     capture.Callback
	format audio.Format
	block  int

	// emitMu serializes callbacks with Close.
	emitMu sync.Mutex
	closed bool

	mu   sync.Mutex
	err  error
	done chan struct{}

	stop     chan struct{}
	exited   chan struct{}
	monitor  *monitor
	stopOnce sync.Once
}

// emit delivers samples unless the stream is closed. Callers hold emitMu.
func (s *stream) emitLocked(samples []float32) {
	if s.closed || len(samples) == 0 {
		return
	}
	s.cb(capture.Block{Samples: samples, Format: s.format})
}

// end records why the stream stopped on its own.
func (s *stream) end(err error) {
	if errors.Is(err, io.EOF) {
		err = capture.ErrEndOfStream
	} else {
		err = fmt.Errorf("%w: %w", capture.ErrDeviceLost, err)
	}
	s.finish(err)
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.done)
}

// pace emits one block per block period.
func (s *stream) pace() {
	defer close(s.exited)
	period := time.Duration(float64(s.block) / float64(s.format.SampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	buf := make([]float32, s.block*s.format.NumChannels)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.emitMu.Lock()
		if s.closed {
			s.emitMu.Unlock()
			return
		}
		n, err := s.src.read(buf)
		s.emitLocked(buf[:n])
		s.emitMu.Unlock()
		if err != nil {
			s.end(err)
			return
		}
	}
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops playback. No callback runs after it returns.
func (s *stream) Close() error {
	s.stopOnce.Do(func() {
		s.emitMu.Lock()
		s.closed = true
		s.src.close()
		s.emitMu.Unlock()

		close(s.stop)
		if s.monitor != nil {
			s.monitor.close()
		} else {
			<-s.exited
		}
		s.finish(capture.ErrStreamClosed)
	})
	return nil
}
