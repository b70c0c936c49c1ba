// Package pulse captures PulseAudio and PipeWire sources, including the
// ".monitor" sources that mirror each output sink.
package pulse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-audio/audio"

	"github.com/olivier-w/bandviz/internal/capture"
)

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Backend lists sources with pactl and records them with ffmpeg.
type Backend struct {
	run    Runner
	ffmpeg string
}

// New returns a backend using the system pactl and ffmpeg.
func New() *Backend { return &Backend{run: execRunner, ffmpeg: "ffmpeg"} }

// NewWithRunner returns a backend that lists sources through run.
func NewWithRunner(run Runner) *Backend { return &Backend{run: run, ffmpeg: "ffmpeg"} }

func (b *Backend) Name() string { return "pulse" }

func (b *Backend) Devices(ctx context.Context) ([]capture.Device, error) {
	out, err := b.run(ctx, "pactl", "list", "short", "sources")
	if err != nil {
		return nil, fmt.Errorf("pactl list sources: %w", err)
	}
	def := ""
	if d, err := b.run(ctx, "pactl", "get-default-source"); err == nil {
		def = strings.TrimSpace(string(d))
	}
	return parseSources(out, def), nil
}

// parseSources reads `pactl list short sources` output:
//
//	index	name	driver	sample-spec	state
func parseSources(out []byte, defaultSource string) []capture.Device {
	var devs []capture.Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		name := fields[1]
		d := capture.Device{
			ID:       name,
			Name:     name,
			Backend:  "pulse",
			Channels: 2,
			Loopback: strings.HasSuffix(name, ".monitor") || capture.IsLoopbackName(name),
			Default:  name == defaultSource,
		}
		if len(fields) >= 4 {
			d.Channels, d.DefaultSampleRate = parseSpec(fields[3], d.Channels)
		}
		devs = append(devs, d)
	}
	return devs
}

// parseSpec reads a sample spec such as "s16le 2ch 44100Hz".
func parseSpec(spec string, channels int) (int, float64) {
	var rate float64
	for _, f := range strings.Fields(spec) {
		switch {
		case strings.HasSuffix(f, "ch"):
			if n, err := strconv.Atoi(strings.TrimSuffix(f, "ch")); err == nil && n > 0 {
				channels = n
			}
		case strings.HasSuffix(f, "Hz"):
			if r, err := strconv.ParseFloat(strings.TrimSuffix(f, "Hz"), 64); err == nil {
				rate = r
			}
		}
	}
	return channels, rate
}

func (b *Backend) Open(ctx context.Context, dev capture.Device, p capture.StreamParams, cb capture.Callback) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ffmpeg, err := exec.LookPath(b.ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (required for pulse capture)")
	}
	rate := strconv.Itoa(p.SampleRate)
	ch := strconv.Itoa(p.Channels)
	cmd := exec.Command(
		ffmpeg,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "pulse",
		"-sample_rate", rate,
		"-channels", ch,
		"-i", dev.ID,
		"-ac", ch,
		"-ar", rate,
		"-f", "f32le",
		"pipe:1",
	)
	cmd.Stdin = nil
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setting up ffmpeg capture: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg capture: %w", err)
	}
	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return newStream(stdout, cmd.Wait, kill, p, cb), nil
}

// stream slices raw little-endian float32 frames from r into blocks.
type stream struct {
	r      io.ReadCloser
	wait   func() error
	kill   func()
	cb     capture.Callback
	format audio.Format
	block  int

	mu        sync.Mutex
	closed    bool
	err       error
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

func newStream(r io.ReadCloser, wait func() error, kill func(), p capture.StreamParams, cb capture.Callback) *stream {
	s := &stream{
		r:        r,
		wait:     wait,
		kill:     kill,
		cb:       cb,
		format:   audio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		block:    p.BlockSize,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *stream) read() {
	defer close(s.readDone)
	raw := make([]byte, s.block*s.format.NumChannels*4)
	samples := make([]float32, s.block*s.format.NumChannels)
	var rerr error
	for {
		n, err := io.ReadFull(s.r, raw)
		if n >= 4 {
			frames := n / 4 / s.format.NumChannels * s.format.NumChannels
			for i := range frames {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
			if frames > 0 && !s.isClosed() {
				s.cb(capture.Block{Samples: samples[:frames], Format: s.format})
			}
		}
		if err != nil {
			rerr = err
			break
		}
	}
	werr := s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		cause := werr
		if cause == nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			cause = rerr
		}
		if cause != nil {
			s.err = fmt.Errorf("%w: ffmpeg exited: %w", capture.ErrDeviceLost, cause)
		} else {
			s.err = fmt.Errorf("%w: ffmpeg exited", capture.ErrDeviceLost)
		}
	}
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills the recorder and waits for the reader to exit.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			s.err = capture.ErrStreamClosed
			close(s.done)
		}
		s.mu.Unlock()
		s.kill()
		_ = s.r.Close()
		<-s.readDone
	})
	return nil
}
