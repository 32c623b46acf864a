package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// StackSize is the size in bytes of the dedicated stack reserved for every
// green thread. Execution is run-to-completion on the worker's own stack, so
// the buffer is a reserved arena: it keeps the per-task memory footprint
// fixed and leaves room to move to real stack switching without changing the
// public surface.
const StackSize = 4096

// EntryFunc is the entry point of a green thread. The state argument is the
// value handed to Spawn; the scheduler borrows it for the duration of the run
// and never retains it afterwards. Ownership of the state memory stays with
// the spawner. Results travel by writing into the state before returning.
type EntryFunc func(ctx context.Context, state any)

// ThreadState describes where a green thread is in its lifecycle.
type ThreadState uint32

const (
	// ThreadReady: constructed, queued or queueable, not yet run.
	ThreadReady ThreadState = iota

	// ThreadRunning: the entry function is executing on a worker.
	ThreadRunning

	// ThreadCompleted: the entry function has returned.
	ThreadCompleted
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// stackPool recycles stack buffers across green threads. A scheduler churning
// through 100k short tasks would otherwise allocate 400 MB of dead buffers.
var stackPool = sync.Pool{
	New: func() any {
		b := make([]byte, StackSize)
		return &b
	},
}

// GreenThread is a lightweight run-once task: an entry function, the
// spawner's state, a dedicated fixed-size stack and a monotonic
// ready -> running -> completed state machine.
type GreenThread struct {
	id     uint64
	entry  EntryFunc
	state  any
	stack  []byte
	status atomic.Uint32
}

// NewGreenThread builds a ready green thread with its stack attached.
// The id must be unique within the owning scheduler.
func NewGreenThread(id uint64, entry EntryFunc, state any) *GreenThread {
	return &GreenThread{
		id:    id,
		entry: entry,
		state: state,
		stack: *stackPool.Get().(*[]byte),
	}
}

// ID returns the scheduler-unique id of this green thread.
func (g *GreenThread) ID() uint64 {
	return g.id
}

// State returns the current lifecycle state. The completed state is published
// with release ordering by Run, so an observer that reads ThreadCompleted
// also observes every side effect of the entry function.
func (g *GreenThread) State() ThreadState {
	return ThreadState(g.status.Load())
}

// Stack returns the dedicated stack buffer. Always StackSize bytes long
// between construction and Release.
func (g *GreenThread) Stack() []byte {
	return g.stack
}

// Run executes the entry function exactly once, driving the state machine
// ready -> running -> completed. A second Run is a scheduler bug and panics.
//
// A panic inside the entry escapes to the caller; the worker loop recovers
// it, and the thread then stays in the running state.
func (g *GreenThread) Run(ctx context.Context) {
	if !g.status.CompareAndSwap(uint32(ThreadReady), uint32(ThreadRunning)) {
		panic("greensched: green thread executed twice")
	}
	g.entry(ctx, g.state)
	// Atomic store has release semantics: the completed state is ordered
	// after all writes the entry performed.
	g.status.Store(uint32(ThreadCompleted))
}

// Release returns the stack to the pool and drops the entry and state
// references. Called exactly once by the scheduler after the thread has been
// consumed; the thread must not be used afterwards.
func (g *GreenThread) Release() {
	if g.stack == nil {
		return
	}
	buf := g.stack
	g.stack = nil
	g.entry = nil
	g.state = nil
	stackPool.Put(&buf)
}
