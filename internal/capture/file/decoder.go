package file

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// decoder yields interleaved float32 samples in [-1, 1]. Read returns whole
// frames only.
type decoder interface {
	Read(dst []float32) (int, error)
	Rewind() error
	SampleRate() int
	Channels() int
	Close() error
}

// openDecoder detects format by file extension and returns the appropriate decoder.
func openDecoder(path string) (decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var d decoder
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		d, err = newMP3Decoder(f)
	case ".wav":
		d, err = newWAVDecoder(f)
	case ".flac":
		d, err = newFLACDecoder(f)
	case ".ogg":
		d, err = newOGGDecoder(f)
	default:
		err = fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func frameAlign(n, channels int) int { return n - n%channels }

// --- MP3 decoder ---

// go-mp3 always produces 16-bit stereo.
type mp3Decoder struct {
	file *os.File
	dec  *mp3.Decoder
	raw  []byte
}

func newMP3Decoder(f *os.File) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	return &mp3Decoder{file: f, dec: dec}, nil
}

func (d *mp3Decoder) Read(dst []float32) (int, error) {
	want := frameAlign(len(dst), 2) * 2
	if cap(d.raw) < want {
		d.raw = make([]byte, want)
	}
	raw := d.raw[:want]
	n, err := io.ReadFull(d.dec, raw)
	samples := n / 4 * 2
	for i := range samples {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if samples == 0 && err == nil {
		err = io.EOF
	}
	return samples, err
}

func (d *mp3Decoder) Rewind() error {
	_, err := d.dec.Seek(0, io.SeekStart)
	return err
}

func (d *mp3Decoder) SampleRate() int { return d.dec.SampleRate() }
func (d *mp3Decoder) Channels() int   { return 2 }
func (d *mp3Decoder) Close() error    { return d.file.Close() }

// --- WAV decoder ---

type wavDecoder struct {
	file     *os.File
	dec      *wav.Decoder
	buf      *audio.IntBuffer
	rate     int
	channels int
	bitDepth int
}

func newWAVDecoder(f *os.File) (*wavDecoder, error) {
	d := &wavDecoder{file: f}
	if err := d.Rewind(); err != nil {
		return nil, err
	}
	d.rate = int(d.dec.SampleRate)
	d.channels = int(d.dec.NumChans)
	d.bitDepth = int(d.dec.BitDepth)
	if d.channels < 1 {
		return nil, fmt.Errorf("invalid WAV channel count: %d", d.channels)
	}
	switch d.bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", d.bitDepth)
	}
	d.buf = &audio.IntBuffer{
		Format:         d.dec.Format(),
		SourceBitDepth: d.bitDepth,
	}
	return d, nil
}

func (d *wavDecoder) Read(dst []float32) (int, error) {
	want := frameAlign(len(dst), d.channels)
	if cap(d.buf.Data) < want {
		d.buf.Data = make([]int, want)
	}
	d.buf.Data = d.buf.Data[:want]
	n, err := d.dec.PCMBuffer(d.buf)
	n = frameAlign(n, d.channels)
	if d.bitDepth == 8 {
		// 8-bit WAV is unsigned
		for i := range n {
			dst[i] = float32(d.buf.Data[i]-128) / 128
		}
	} else {
		scale := float32(int64(1) << (d.bitDepth - 1))
		for i := range n {
			dst[i] = float32(d.buf.Data[i]) / scale
		}
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

// Rewind positions a fresh decoder at the start of PCM data.
func (d *wavDecoder) Rewind() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := wav.NewDecoder(d.file)
	if !dec.IsValidFile() {
		return fmt.Errorf("invalid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("reading WAV PCM data: %w", err)
	}
	d.dec = dec
	return nil
}

func (d *wavDecoder) SampleRate() int { return d.rate }
func (d *wavDecoder) Channels() int   { return d.channels }
func (d *wavDecoder) Close() error    { return d.file.Close() }

// --- FLAC decoder ---

type flacDecoder struct {
	file     *os.File
	stream   *flac.Stream
	pending  []float32
	rate     int
	channels int
	scale    float32
}

func newFLACDecoder(f *os.File) (*flacDecoder, error) {
	stream, err := flac.NewSeek(f)
	if err != nil {
		return nil, fmt.Errorf("decoding FLAC: %w", err)
	}
	info := stream.Info
	return &flacDecoder{
		file:     f,
		stream:   stream,
		rate:     int(info.SampleRate),
		channels: int(info.NChannels),
		scale:    float32(int64(1) << (info.BitsPerSample - 1)),
	}, nil
}

func (d *flacDecoder) Read(dst []float32) (int, error) {
	for len(d.pending) == 0 {
		frame, err := d.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		nSamples := int(frame.Subframes[0].NSamples)
		need := nSamples * d.channels
		if cap(d.pending) < need {
			d.pending = make([]float32, need)
		}
		d.pending = d.pending[:need]
		for i := range nSamples {
			for ch := range d.channels {
				d.pending[i*d.channels+ch] = float32(frame.Subframes[ch].Samples[i]) / d.scale
			}
		}
	}
	n := copy(dst[:frameAlign(len(dst), d.channels)], d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *flacDecoder) Rewind() error {
	d.pending = d.pending[:0]
	_, err := d.stream.Seek(0)
	return err
}

func (d *flacDecoder) SampleRate() int { return d.rate }
func (d *flacDecoder) Channels() int   { return d.channels }
func (d *flacDecoder) Close() error    { return d.file.Close() }

// --- OGG Vorbis decoder ---

type oggDecoder struct {
	file   *os.File
	reader *oggvorbis.Reader
}

func newOGGDecoder(f *os.File) (*oggDecoder, error) {
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decoding OGG: %w", err)
	}
	return &oggDecoder{file: f, reader: reader}, nil
}

func (d *oggDecoder) Read(dst []float32) (int, error) {
	n, err := d.reader.Read(dst[:frameAlign(len(dst), d.reader.Channels())])
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

func (d *oggDecoder) Rewind() error   { return d.reader.SetPosition(0) }
func (d *oggDecoder) SampleRate() int { return d.reader.SampleRate() }
func (d *oggDecoder) Channels() int   { return d.reader.Channels() }
func (d *oggDecoder) Close() error    { return d.file.Close() }
