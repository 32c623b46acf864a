package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when size < cap/4
)

// WorkQueue is a double-ended queue of ready green threads. The owning
// worker works the bottom end (PushBottom/PopBottom, LIFO for cache
// locality; spawners also push there when placing new work); every other
// worker takes from the top end (StealTop/StealHalf, oldest first). A short
// critical section around a ring buffer keeps the presence/absence of each
// task linearizable: a queued task is handed to exactly one caller and is
// never dropped.
type WorkQueue struct {
	mu   sync.Mutex
	buf  []*GreenThread
	head int // top end, next steal slot
	tail int // bottom end, next push slot
	size int
}

// NewWorkQueue creates an empty queue with the default capacity.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{
		buf: make([]*GreenThread, defaultQueueCap),
	}
}

// PushBottom appends a thread at the bottom end.
func (q *WorkQueue) PushBottom(g *GreenThread) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		q.growLocked()
	}
	q.buf[q.tail] = g
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
}

// PopBottom removes the most recently pushed thread. Owner only.
// Returns nil when the queue is empty.
func (q *WorkQueue) PopBottom() *GreenThread {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	q.tail = (q.tail - 1 + len(q.buf)) % len(q.buf)
	g := q.buf[q.tail]
	q.buf[q.tail] = nil
	q.size--
	q.maybeCompactLocked()
	return g
}

// StealTop removes the oldest thread. Any non-owner may call it
// concurrently with the owner's push/pop. Returns nil when empty.
func (q *WorkQueue) StealTop() *GreenThread {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	g := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	q.maybeCompactLocked()
	return g
}

// StealHalf moves half of this queue (at least one thread, oldest first)
// into dst, returning the first stolen thread and the number of threads
// taken, or (nil, 0) when empty. The two locks are never held together:
// threads leave the victim before they enter the thief, so a thread is in
// exactly one queue or in the thief's hands.
func (q *WorkQueue) StealHalf(dst *WorkQueue) (*GreenThread, int) {
	batch := q.stealBatch()
	if len(batch) == 0 {
		return nil, 0
	}
	first := batch[0]
	for _, g := range batch[1:] {
		dst.PushBottom(g)
	}
	return first, len(batch)
}

// stealBatch removes ceil(size/2) threads from the top end.
func (q *WorkQueue) stealBatch() []*GreenThread {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	n := q.size - q.size/2
	batch := make([]*GreenThread, n)
	for i := 0; i < n; i++ {
		batch[i] = q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
	}
	q.size -= n
	q.maybeCompactLocked()
	return batch
}

// Len returns the current number of queued threads.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// IsEmpty reports whether the queue has no threads.
func (q *WorkQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes and returns every queued thread, releasing the queue's
// references. Used at teardown.
func (q *WorkQueue) Drain() []*GreenThread {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	out := make([]*GreenThread, 0, q.size)
	for q.size > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.buf = make([]*GreenThread, defaultQueueCap)
	q.head, q.tail = 0, 0
	return out
}

func (q *WorkQueue) growLocked() {
	q.resizeLocked(len(q.buf) * 2)
}

func (q *WorkQueue) maybeCompactLocked() {
	c := len(q.buf)
	if c < compactMinCap {
		return
	}
	if q.size*compactShrinkFactor >= c {
		return
	}
	newCap := max(max(c/2, defaultQueueCap), q.size)
	q.resizeLocked(newCap)
}

func (q *WorkQueue) resizeLocked(newCap int) {
	newBuf := make([]*GreenThread, newCap)
	for i := 0; i < q.size; i++ {
		newBuf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = newBuf
	q.head = 0
	q.tail = q.size % newCap
}
