// Package capture defines the audio acquisition contract used by the
// analysis pipeline: device descriptors, the backend that enumerates and
// opens them, and the stream handle that delivers interleaved blocks to a
// non-blocking callback.
//
// Concrete backends live in sub-packages (hw, pulse, file, mock).
package capture

import (
	"context"
	"errors"

	"github.com/go-audio/audio"
)

var (
	// ErrNoDeviceFound is returned when no input-capable device exists.
	ErrNoDeviceFound = errors.New("capture: no input device found")

	// ErrDeviceLost signals that an open stream terminated unexpectedly.
	ErrDeviceLost = errors.New("capture: device lost")

	// ErrStreamClosed is reported by a stream that was closed by its owner.
	ErrStreamClosed = errors.New("capture: stream closed")

	// ErrEndOfStream is reported by finite sources that ran out of audio.
	ErrEndOfStream = errors.New("capture: end of stream")
)

// Flags carries per-block status reported by the backend.
type Flags uint8

const (
	// FlagInputOverflow means the device dropped samples before this block.
	FlagInputOverflow Flags = 1 << iota
	// FlagInputUnderflow means the block was padded because data ran short.
	FlagInputUnderflow
)

// Has reports whether all bits in f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Block is one callback's worth of interleaved samples.
//
// Samples is only valid for the duration of the callback; receivers that
// keep data must copy it.
type Block struct {
	Samples []float32
	Format  audio.Format
	Flags   Flags
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	if b.Format.NumChannels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.NumChannels
}

// Callback receives blocks on the backend's capture goroutine. It must not
// block.
type Callback func(Block)

// Device describes one capture endpoint.
type Device struct {
	ID                string
	Name              string
	Backend           string
	Channels          int
	DefaultSampleRate float64
	Loopback          bool
	Default           bool
}

// StreamParams describes the format requested from Open.
type StreamParams struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// Stream is an open capture stream.
type Stream interface {
	// Done is closed once the stream stops delivering blocks.
	Done() <-chan struct{}
	// Err returns why the stream stopped. It wraps ErrDeviceLost for
	// unexpected termination and is nil while the stream is running.
	Err() error
	// Close stops delivery and releases the device. No callback runs after
	// Close returns. Close is idempotent.
	Close() error
}

// Backend enumerates and opens capture devices.
type Backend interface {
	Name() string
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, dev Device, p StreamParams, cb Callback) (Stream, error)
}
