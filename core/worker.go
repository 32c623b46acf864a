package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// WorkerState describes what a worker is currently doing.
type WorkerState uint32

const (
	// WorkerIdle: parked, waiting for a wakeup signal.
	WorkerIdle WorkerState = iota

	// WorkerScheduling: scanning its own queue and stealing from peers.
	WorkerScheduling

	// WorkerExecuting: running a green thread.
	WorkerExecuting
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerScheduling:
		return "scheduling"
	case WorkerExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// spinAttempts is how many scan rounds a worker performs, yielding the
// processor in between, before it parks on the signal channel.
const spinAttempts = 4

// Worker is one OS thread of the scheduler, bound to its own WorkQueue.
// It pops its local queue LIFO, steals from peers FIFO when the local queue
// is empty, and parks when there is nothing to do anywhere.
type Worker struct {
	id     int
	sched  *Scheduler
	queue  *WorkQueue
	status atomic.Uint32

	// ctx carries this worker back to Spawn so nested spawns land on the
	// local queue. Set once in Start, read only by this worker.
	ctx context.Context

	// nextVictim rotates the peer scan start so steals spread across the
	// pool instead of hammering worker 0. Owner only.
	nextVictim int
}

func newWorker(id int, s *Scheduler) *Worker {
	return &Worker{
		id:    id,
		sched: s,
		queue: NewWorkQueue(),
	}
}

// ID returns the worker's index within the scheduler.
func (w *Worker) ID() int {
	return w.id
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.status.Load())
}

// QueueDepth returns the current length of the worker's local queue.
func (w *Worker) QueueDepth() int {
	return w.queue.Len()
}

// run is the scheduling loop. Each worker pins itself to an OS thread: task
// bodies may use thread-local facilities (cgo, syscalls) and a green thread
// occupies exactly one OS thread for its whole run.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.sched.workersDone.Done()

	s := w.sched
	for {
		w.status.Store(uint32(WorkerScheduling))
		if g := w.findWork(); g != nil {
			w.execute(g)
			continue
		}

		// Nothing locally or stealably available. The shutdown flag is
		// sticky and intake closes under the spawn lock before it flips,
		// so one scan after observing the flag catches any task that was
		// accepted while the previous scan was running. Exit only when
		// that post-flag scan comes up empty.
		if s.isShuttingDown() {
			if g := w.drainPass(); g != nil {
				w.execute(g)
				continue
			}
			return
		}

		w.status.Store(uint32(WorkerIdle))
		select {
		case <-s.signal:
		case <-s.quit:
		}
	}
}

// findWork spins through local-pop and peer-steal a few times before giving
// up, so short gaps between spawns do not bounce the worker through a park.
func (w *Worker) findWork() *GreenThread {
	for attempt := 0; attempt < spinAttempts; attempt++ {
		if g := w.queue.PopBottom(); g != nil {
			return g
		}
		if g := w.steal(); g != nil {
			return g
		}
		if w.sched.isShuttingDown() {
			return nil
		}
		runtime.Gosched()
	}
	return nil
}

// drainPass is the scan performed after the shutdown flag has been
// observed: one local pop plus one steal round. Every enqueue accepted
// before intake closed happens-before the flag flip, so a task still queued
// anywhere this worker owns is visible to this pass.
func (w *Worker) drainPass() *GreenThread {
	if g := w.queue.PopBottom(); g != nil {
		return g
	}
	return w.steal()
}

// steal scans peers in round-robin order starting at a rotating offset and
// takes half of the first non-empty queue into the local one.
func (w *Worker) steal() *GreenThread {
	workers := w.sched.workers
	n := len(workers)
	if n < 2 {
		return nil
	}

	offset := w.nextVictim
	w.nextVictim++
	for i := 0; i < n; i++ {
		victim := workers[(offset+i)%n]
		if victim == w {
			continue
		}
		if g, moved := victim.queue.StealHalf(w.queue); g != nil {
			w.sched.stolen.Add(uint64(moved))
			w.sched.metrics.RecordSteal(moved)
			return g
		}
	}
	return nil
}

// execute runs one green thread to completion and retires it. The active
// counter is decremented on every path out, including a panicking task, so
// WaitAll always unblocks.
func (w *Worker) execute(g *GreenThread) {
	w.status.Store(uint32(WorkerExecuting))
	s := w.sched

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.panicHandler.HandlePanic(w.ctx, w.id, g.ID(), r, debug.Stack())
				s.metrics.RecordPanic(r)
			}
		}()
		g.Run(w.ctx)
	}()

	s.metrics.RecordCompletion(time.Since(start))
	s.metrics.RecordQueueDepth(w.id, w.queue.Len())
	g.Release()
	s.completed.Add(1)
	s.taskDone()
}

// =============================================================================
// Context Helper
// =============================================================================

type workerKeyType struct{}

var workerKey workerKeyType

func withWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey, w)
}

// WorkerFromContext returns the worker executing the current green thread,
// or nil when the context does not come from a worker. Spawn uses it to keep
// nested spawns on the spawning worker's queue.
func WorkerFromContext(ctx context.Context) *Worker {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(workerKey); v != nil {
		return v.(*Worker)
	}
	return nil
}
