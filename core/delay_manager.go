package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedSpawn is a green thread scheduled for the future.
type delayedSpawn struct {
	runAt time.Time
	entry EntryFunc
	state any
	index int // for heap interface
}

// delayedSpawnHeap implements heap.Interface ordered by fire time.
type delayedSpawnHeap []*delayedSpawn

func (h delayedSpawnHeap) Len() int           { return len(h) }
func (h delayedSpawnHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedSpawnHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedSpawnHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedSpawn)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedSpawnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedSpawnHeap) Peek() *delayedSpawn {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds spawns whose delay has not elapsed yet. A single timer
// goroutine pops expired entries and hands them to the scheduler's spawn
// path.
type DelayManager struct {
	pq     delayedSpawnHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	fire   func(entry EntryFunc, state any)
}

func newDelayManager(fire func(entry EntryFunc, state any)) *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(delayedSpawnHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		fire:   fire,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Add schedules entry over state to fire after delay.
func (dm *DelayManager) Add(entry EntryFunc, state any, delay time.Duration) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &delayedSpawn{
		runAt: time.Now().Add(delay),
		entry: entry,
		state: state,
	}
	heap.Push(&dm.pq, item)

	// Only a new earliest entry changes the timer deadline.
	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := dm.nextFireIn()
		if nextRun <= 0 {
			// Empty heap: sleep until a wakeup.
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.fireExpired()
		case <-dm.wakeup:
			// New earliest entry, recalculate the deadline.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextFireIn returns the wait until the earliest entry. 0 means the heap is
// empty; a non-empty heap always yields a positive wait, so the loop never
// mistakes a due entry for an empty heap.
func (dm *DelayManager) nextFireIn() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0
	}
	if d := time.Until(item.runAt); d > 0 {
		return d
	}
	// Due, including exactly due: fire on the shortest possible timer tick.
	return time.Nanosecond
}

// fireExpired pops every due entry and spawns it outside the lock.
func (dm *DelayManager) fireExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*delayedSpawn
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	for _, item := range expired {
		dm.fire(item.entry, item.state)
	}
}

// Stop cancels the timer goroutine and clears pending entries, returning
// how many were discarded.
func (dm *DelayManager) Stop() int {
	dm.cancel()

	dm.mu.Lock()
	dropped := len(dm.pq)
	dm.pq = make(delayedSpawnHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
	return dropped
}

// TaskCount returns the number of entries whose delay has not elapsed.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
