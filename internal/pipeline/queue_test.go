package pipeline

import (
	"testing"

	"github.com/go-audio/audio"

	"github.com/olivier-w/bandviz/internal/capture"
)

func blk(v float32) capture.Block {
	return capture.Block{
		Samples: []float32{v, v},
		Format:  audio.Format{NumChannels: 2, SampleRate: 48000},
	}
}

func TestBlockQueueFIFO(t *testing.T) {
	q := newBlockQueue(3, 2)
	for i := 1; i <= 3; i++ {
		if d := q.push(blk(float32(i))); d != 0 {
			t.Fatalf("push %d dropped %d", i, d)
		}
	}
	var buf []float32
	for want := float32(1); want <= 3; want++ {
		b, out, ok := q.pop(buf)
		buf = out
		if !ok || b.Samples[0] != want {
			t.Fatalf("pop = %v, %v; want %v", b.Samples, ok, want)
		}
		if b.Format.SampleRate != 48000 {
			t.Fatalf("format lost: %+v", b.Format)
		}
	}
	if _, _, ok := q.pop(buf); ok {
		t.Fatal("pop on empty queue returned a block")
	}
}

func TestBlockQueueFullDropsOldest(t *testing.T) {
	q := newBlockQueue(2, 2)
	q.push(blk(1))
	q.push(blk(2))
	if d := q.push(blk(3)); d != 1 {
		t.Fatalf("push on full queue dropped %d, want 1", d)
	}
	if q.size() != 2 {
		t.Fatalf("size = %d, want 2", q.size())
	}
	b, _, _ := q.pop(nil)
	if b.Samples[0] != 2 {
		t.Fatalf("oldest remaining = %v, want 2", b.Samples[0])
	}
}

func TestBlockQueueContentionDropsIncoming(t *testing.T) {
	q := newBlockQueue(2, 2)
	q.mu.Lock()
	d := q.push(blk(1))
	q.mu.Unlock()
	if d != 1 {
		t.Fatalf("push under contention dropped %d, want 1", d)
	}
	if q.size() != 0 {
		t.Fatalf("size = %d, want 0", q.size())
	}
}

func TestBlockQueueCopiesSamples(t *testing.T) {
	q := newBlockQueue(1, 2)
	b := blk(1)
	q.push(b)
	b.Samples[0] = 99
	got, _, _ := q.pop(nil)
	if got.Samples[0] != 1 {
		t.Fatalf("queue aliased caller samples: %v", got.Samples)
	}
}

func TestBlockQueuePushDoesNotAllocate(t *testing.T) {
	q := newBlockQueue(4, 2)
	b := blk(1)
	var buf []float32
	allocs := testing.AllocsPerRun(100, func() {
		q.push(b)
		_, buf, _ = q.pop(buf)
	})
	if allocs != 0 {
		t.Fatalf("push/pop allocated %v times per run", allocs)
	}
}

func TestSampleRing(t *testing.T) {
	r := newSampleRing(4)
	if got := r.read(4, nil); len(got) != 0 {
		t.Fatalf("empty read = %v", got)
	}
	r.write([]float64{1, 2, 3})
	if got := r.read(4, nil); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("read = %v", got)
	}
	r.write([]float64{4, 5})
	got := r.read(4, nil)
	want := []float64{2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("read = %v, want %v", got, want)
		}
	}
	r.write([]float64{6, 7, 8, 9, 10, 11})
	got = r.read(2, got)
	if got[0] != 10 || got[1] != 11 {
		t.Fatalf("read after long write = %v", got)
	}
	r.clear()
	if got := r.read(4, nil); len(got) != 0 {
		t.Fatalf("read after clear = %v", got)
	}
}
