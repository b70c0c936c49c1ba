package pipeline

import (
	"sync"

	"github.com/go-audio/audio"

	"github.com/olivier-w/bandviz/internal/capture"
)

type slot struct {
	samples []float32
	format  audio.Format
	flags   capture.Flags
}

// blockQueue hands capture blocks from the callback to the worker. Slots are
// preallocated; push never blocks and never allocates once a slot has grown
// to the block size.
type blockQueue struct {
	mu    sync.Mutex
	slots []slot
	head  int
	n     int
}

func newBlockQueue(depth, samplesPerBlock int) *blockQueue {
	q := &blockQueue{slots: make([]slot, depth)}
	for i := range q.slots {
		q.slots[i].samples = make([]float32, 0, samplesPerBlock)
	}
	return q
}

// push copies b into the next slot. When the queue is full the oldest block
// is overwritten. It returns the number of blocks lost: 1 when the oldest
// was overwritten or when the worker held the lock and b itself was dropped.
func (q *blockQueue) push(b capture.Block) (dropped int) {
	if !q.mu.TryLock() {
		return 1
	}
	defer q.mu.Unlock()

	idx := (q.head + q.n) % len(q.slots)
	if q.n == len(q.slots) {
		idx = q.head
		q.head = (q.head + 1) % len(q.slots)
		dropped = 1
	} else {
		q.n++
	}
	s := &q.slots[idx]
	s.samples = append(s.samples[:0], b.Samples...)
	s.format = b.Format
	s.flags = b.Flags
	return dropped
}

// pop copies the oldest block into buf and returns it as a Block backed by
// buf. ok is false when the queue is empty.
func (q *blockQueue) pop(buf []float32) (b capture.Block, out []float32, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return capture.Block{}, buf, false
	}
	s := &q.slots[q.head]
	q.head = (q.head + 1) % len(q.slots)
	q.n--
	buf = append(buf[:0], s.samples...)
	return capture.Block{Samples: buf, Format: s.format, Flags: s.flags}, buf, true
}

func (q *blockQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}
