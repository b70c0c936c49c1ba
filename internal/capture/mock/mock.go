// Package mock provides a scripted capture backend for tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-audio/audio"

	"github.com/olivier-w/bandviz/internal/capture"
)

// Backend is an in-memory capture.Backend. Devices and open failures are
// scripted by the test; every successful Open is recorded and announced on
// Opened.
type Backend struct {
	mu       sync.Mutex
	devices  []capture.Device
	devErr   error
	openErrs []error
	streams  []*Stream

	opened chan *Stream
}

// New returns a backend that reports devs.
func New(devs ...capture.Device) *Backend {
	return &Backend{
		devices: devs,
		opened:  make(chan *Stream, 64),
	}
}

func (b *Backend) Name() string { return "mock" }

// SetDevices replaces the enumerated device list.
func (b *Backend) SetDevices(devs ...capture.Device) {
	b.mu.Lock()
	b.devices = devs
	b.mu.Unlock()
}

// FailDevices makes Devices return err until cleared with nil.
func (b *Backend) FailDevices(err error) {
	b.mu.Lock()
	b.devErr = err
	b.mu.Unlock()
}

// FailOpen queues errors returned by the next len(errs) Open calls.
func (b *Backend) FailOpen(errs ...error) {
	b.mu.Lock()
	b.openErrs = append(b.openErrs, errs...)
	b.mu.Unlock()
}

// Opened delivers every stream opened successfully.
func (b *Backend) Opened() <-chan *Stream { return b.opened }

// Opens returns the number of successful opens so far.
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Last returns the most recently opened stream, or nil.
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

func (b *Backend) Devices(ctx context.Context) ([]capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.devErr != nil {
		return nil, b.devErr
	}
	out := make([]capture.Device, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

func (b *Backend) Open(ctx context.Context, dev capture.Device, p capture.StreamParams, cb capture.Callback) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, fmt.Errorf("mock: nil callback")
	}
	b.mu.Lock()
	if len(b.openErrs) > 0 {
		err := b.openErrs[0]
		b.openErrs = b.openErrs[1:]
		b.mu.Unlock()
		return nil, err
	}
	s := &Stream{
		Device: dev,
		Params: p,
		cb:     cb,
		done:   make(chan struct{}),
	}
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	select {
	case b.opened <- s:
	default:
	}
	return s, nil
}

// Stream is a scripted capture.Stream. Emit runs the callback synchronously
// on the caller's goroutine.
type Stream struct {
	Device capture.Device
	Params capture.StreamParams

	mu     sync.Mutex
	cb     capture.Callback
	done   chan struct{}
	err    error
	closed bool
	emits  int
}

// Emit delivers one interleaved block. It returns false once the stream has
// ended.
func (s *Stream) Emit(samples []float32, flags capture.Flags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return false
	}
	s.emits++
	s.cb(capture.Block{
		Samples: samples,
		Format:  audio.Format{NumChannels: s.Params.Channels, SampleRate: s.Params.SampleRate},
		Flags:   flags,
	})
	return true
}

// Emits returns how many blocks were delivered.
func (s *Stream) Emits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emits
}

// Lose ends the stream as if the device disappeared.
func (s *Stream) Lose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = fmt.Errorf("mock %s: %w", s.Device.Name, capture.ErrDeviceLost)
	close(s.done)
}

// Finish ends the stream as a finite source that ran out of audio.
func (s *Stream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = capture.ErrEndOfStream
	close(s.done)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err == nil {
		s.err = capture.ErrStreamClosed
		close(s.done)
	}
	return nil
}

// Tone returns frames of an interleaved sine at freq Hz with the same signal
// on every channel.
func Tone(freq, amp float64, sampleRate, channels, frames int) []float32 {
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}
