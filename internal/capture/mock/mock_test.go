package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/olivier-w/bandviz/internal/capture"
)

func TestOpenEmitClose(t *testing.T) {
	b := New(capture.Device{ID: "1", Name: "Loopback", Channels: 2, Loopback: true})
	devs, err := b.Devices(context.Background())
	if err != nil || len(devs) != 1 {
		t.Fatalf("Devices() = %v, %v", devs, err)
	}

	var got []capture.Block
	s, err := b.Open(context.Background(), devs[0], capture.StreamParams{SampleRate: 48000, Channels: 2, BlockSize: 4}, func(blk capture.Block) {
		got = append(got, blk)
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ms := <-b.Opened()
	if ms != s {
		t.Fatal("Opened() did not announce the stream")
	}

	if !ms.Emit(make([]float32, 8), capture.FlagInputOverflow) {
		t.Fatal("Emit() = false on open stream")
	}
	if len(got) != 1 || got[0].Frames() != 4 || got[0].Format.SampleRate != 48000 {
		t.Fatalf("callback got %+v", got)
	}
	if !got[0].Flags.Has(capture.FlagInputOverflow) {
		t.Fatal("overflow flag not delivered")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if ms.Emit(make([]float32, 8), 0) {
		t.Fatal("Emit() after Close delivered a block")
	}
	if len(got) != 1 {
		t.Fatalf("callbacks after close: %d", len(got))
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after Close")
	}
}

func TestLoseReportsDeviceLost(t *testing.T) {
	b := New(capture.Device{ID: "1", Name: "Loopback", Channels: 2})
	s, err := b.Open(context.Background(), capture.Device{Name: "Loopback"}, capture.StreamParams{Channels: 2}, func(capture.Block) {})
	if err != nil {
		t.Fatal(err)
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v before loss", s.Err())
	}
	b.Last().Lose()
	<-s.Done()
	if !errors.Is(s.Err(), capture.ErrDeviceLost) {
		t.Fatalf("Err() = %v, want ErrDeviceLost", s.Err())
	}
}

func TestFailOpenQueue(t *testing.T) {
	b := New()
	boom := errors.New("busy")
	b.FailOpen(boom)
	cb := func(capture.Block) {}
	if _, err := b.Open(context.Background(), capture.Device{}, capture.StreamParams{}, cb); !errors.Is(err, boom) {
		t.Fatalf("first Open() error = %v, want busy", err)
	}
	if _, err := b.Open(context.Background(), capture.Device{}, capture.StreamParams{}, cb); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if b.Opens() != 1 {
		t.Fatalf("Opens() = %d, want 1", b.Opens())
	}
}

func TestTone(t *testing.T) {
	s := Tone(1000, 0.5, 8000, 2, 8)
	if len(s) != 16 {
		t.Fatalf("len = %d", len(s))
	}
	if s[0] != 0 || s[2] != s[3] {
		t.Fatalf("unexpected samples %v", s[:4])
	}
	if s[4] < 0.49 || s[4] > 0.51 {
		t.Fatalf("peak sample = %v, want about 0.5", s[4])
	}
}
