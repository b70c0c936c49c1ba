// Package hw captures from sound card inputs through PortAudio. On Windows
// builds with WASAPI loopback support and on systems exposing "Stereo Mix"
// style devices this also covers system output.
package hw

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"

	"github.com/olivier-w/bandviz/internal/capture"
)

// Backend enumerates and opens PortAudio input devices. PortAudio is
// initialized on first use; call Close when done.
type Backend struct {
	mu     sync.Mutex
	inited bool
}

// New returns an uninitialized backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "hw" }

func (b *Backend) init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	b.inited = true
	return nil
}

// Close terminates PortAudio. Streams must be closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inited {
		return nil
	}
	b.inited = false
	return portaudio.Terminate()
}

func (b *Backend) Devices(ctx context.Context) ([]capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.init(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	var def *portaudio.DeviceInfo
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		def = d
	}
	devs := make([]capture.Device, 0, len(infos))
	for i, info := range infos {
		devs = append(devs, toDevice(i, info, def))
	}
	return devs, nil
}

func toDevice(idx int, info, def *portaudio.DeviceInfo) capture.Device {
	hostAPI := ""
	if info.HostApi != nil {
		hostAPI = info.HostApi.Name
	}
	loopback := capture.IsLoopbackName(info.Name) || strings.Contains(strings.ToLower(hostAPI), "loopback")
	return capture.Device{
		ID:                strconv.Itoa(idx),
		Name:              info.Name,
		Backend:           "hw",
		Channels:          info.MaxInputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		Loopback:          loopback,
		Default:           def != nil && info.Name == def.Name && info.HostApi == def.HostApi,
	}
}

// findDevice resolves dev against a fresh enumeration by ID, then by name.
func findDevice(infos []*portaudio.DeviceInfo, dev capture.Device) *portaudio.DeviceInfo {
	if i, err := strconv.Atoi(dev.ID); err == nil && i >= 0 && i < len(infos) && infos[i].Name == dev.Name {
		return infos[i]
	}
	for _, info := range infos {
		if info.Name == dev.Name && info.MaxInputChannels > 0 {
			return info
		}
	}
	return nil
}

func toFlags(f portaudio.StreamCallbackFlags) capture.Flags {
	var out capture.Flags
	if f&portaudio.InputOverflow != 0 {
		out |= capture.FlagInputOverflow
	}
	if f&portaudio.InputUnderflow != 0 {
		out |= capture.FlagInputUnderflow
	}
	return out
}

func (b *Backend) Open(ctx context.Context, dev capture.Device, p capture.StreamParams, cb capture.Callback) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.init(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	info := findDevice(infos, dev)
	if info == nil {
		return nil, fmt.Errorf("%s: %w", dev.Name, capture.ErrNoDeviceFound)
	}

	params := portaudio.HighLatencyParameters(info, nil)
	params.Input.Channels = p.Channels
	params.SampleRate = float64(p.SampleRate)
	params.FramesPerBuffer = p.BlockSize

	s := &stream{
		cb:     cb,
		format: audio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		done:   make(chan struct{}),
	}
	pa, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", info.Name, err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		return nil, fmt.Errorf("starting %s: %w", info.Name, err)
	}
	s.pa = pa
	return s, nil
}

// stream adapts a PortAudio callback stream. PortAudio reports no
// disconnect event, so a vanished device is detected by the pipeline's
// stall watchdog.
type stream struct {
	pa     *portaudio.Stream
	cb     capture.Callback
	format audio.Format

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func (s *stream) process(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	s.cb(capture.Block{Samples: in, Format: s.format, Flags: toFlags(flags)})
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream; Pa_StopStream returns only after the last
// callback has finished.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.err = capture.ErrStreamClosed
	close(s.done)
	s.mu.Unlock()

	stopErr := s.pa.Stop()
	closeErr := s.pa.Close()
	if stopErr != nil {
		return fmt.Errorf("stopping stream: %w", stopErr)
	}
	return closeErr
}
