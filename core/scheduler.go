package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TaskHandle identifies a spawned green thread. It is safe to ignore; join
// semantics go through WaitAll, not through individual handles.
type TaskHandle struct {
	ID uint64
}

// Scheduler runs green threads on a fixed pool of OS-thread-locked workers
// with per-worker work-stealing queues.
//
// Lifecycle: NewScheduler allocates queues and worker descriptors without
// starting any OS thread. Start brings the workers up. Spawn and WaitAll are
// then usable repeatedly, across generations of work. Shutdown stops intake
// and lets the workers drain; Deinit joins the workers and frees the queues.
type Scheduler struct {
	workers []*Worker

	// signal hints parked workers that work arrived; quit wakes everyone
	// for the shutdown re-check.
	signal chan struct{}
	quit   chan struct{}

	workersDone sync.WaitGroup

	// active is the join counter: +1 before a spawned thread becomes
	// visible to any worker, -1 after it completes. WaitAll blocks until
	// it reads zero. Atomic add/load gives the acquire/release pairing
	// that orders zero-observation after every task's side effects.
	active atomic.Int64

	idleMu   sync.Mutex
	idleCond *sync.Cond

	// spawnMu closes the spawn-vs-shutdown race: spawns enqueue under the
	// read side, Shutdown flips shuttingDown under the write side, so once
	// Shutdown returns no enqueue is still in flight and a worker that
	// sees empty queues everywhere can safely exit.
	spawnMu      sync.RWMutex
	shuttingDown atomic.Bool

	started atomic.Bool
	running atomic.Bool

	nextQueue atomic.Uint64 // round-robin cursor for external spawns
	nextID    atomic.Uint64

	spawned   atomic.Uint64
	completed atomic.Uint64
	stolen    atomic.Uint64

	delay *DelayManager

	panicHandler PanicHandler
	metrics      Metrics
	rejected     RejectedTaskHandler
	logger       Logger
}

// NewScheduler creates a scheduler with numWorkers workers and default
// collaborators. No OS threads are started until Start.
func NewScheduler(numWorkers int) (*Scheduler, error) {
	return NewSchedulerWithConfig(numWorkers, DefaultSchedulerConfig())
}

// NewSchedulerWithConfig creates a scheduler with numWorkers workers, using
// the handlers, metrics and logger from config. Nil config fields fall back
// to the defaults.
func NewSchedulerWithConfig(numWorkers int, config *SchedulerConfig) (*Scheduler, error) {
	if numWorkers < 1 {
		return nil, ErrNoWorkers
	}

	s := &Scheduler{
		signal: make(chan struct{}, numWorkers*2),
		quit:   make(chan struct{}),
	}
	s.idleCond = sync.NewCond(&s.idleMu)

	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejected = config.RejectedTaskHandler
		s.logger = config.Logger
	}
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejected == nil {
		s.rejected = &DefaultRejectedTaskHandler{}
	}
	if s.logger == nil {
		s.logger = &NopLogger{}
	}

	s.workers = make([]*Worker, numWorkers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	s.delay = newDelayManager(s.enqueueDelayed)

	return s, nil
}

// Start brings up one OS-thread-locked worker per queue. Call once.
func (s *Scheduler) Start() error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for _, w := range s.workers {
		w.ctx = withWorker(context.Background(), w)
		s.workersDone.Add(1)
		go w.run()
	}
	s.running.Store(true)
	s.logger.Info("scheduler started", F("workers", len(s.workers)))
	return nil
}

// Spawn creates a green thread for entry over state and enqueues it.
//
// The active counter is incremented before the thread becomes visible to
// any worker, so a concurrent WaitAll can never observe zero while a spawn
// is in flight. When ctx carries a worker of this scheduler (nested spawn
// from inside a task), the thread goes onto that worker's local queue;
// otherwise placement is round-robin. Safe to call concurrently from any
// goroutine, before Start and between WaitAll generations.
//
// State stays owned by the caller and must outlive the run; the scheduler
// only borrows it.
func (s *Scheduler) Spawn(ctx context.Context, entry EntryFunc, state any) (TaskHandle, error) {
	if entry == nil {
		return TaskHandle{}, ErrNilEntry
	}

	s.spawnMu.RLock()
	defer s.spawnMu.RUnlock()

	if s.shuttingDown.Load() {
		s.rejected.HandleRejectedTask("shutting down")
		s.metrics.RecordRejected("shutting down")
		return TaskHandle{}, ErrShuttingDown
	}

	id := s.nextID.Add(1)
	g := NewGreenThread(id, entry, state)

	s.active.Add(1)
	s.spawned.Add(1)
	s.metrics.RecordSpawn()

	if w := WorkerFromContext(ctx); w != nil && w.sched == s {
		w.queue.PushBottom(g)
		s.metrics.RecordQueueDepth(w.id, w.queue.Len())
	} else {
		i := int(s.nextQueue.Add(1)-1) % len(s.workers)
		s.workers[i].queue.PushBottom(g)
		s.metrics.RecordQueueDepth(i, s.workers[i].queue.Len())
	}
	s.notify()

	return TaskHandle{ID: id}, nil
}

// SpawnAfter schedules entry over state to be spawned once delay elapses.
// The thread joins WaitAll only from the moment it is actually spawned;
// a WaitAll issued before the delay elapses does not wait for it.
func (s *Scheduler) SpawnAfter(entry EntryFunc, state any, delay time.Duration) error {
	if entry == nil {
		return ErrNilEntry
	}
	if s.shuttingDown.Load() {
		s.rejected.HandleRejectedTask("shutting down")
		s.metrics.RecordRejected("shutting down")
		return ErrShuttingDown
	}
	s.delay.Add(entry, state, delay)
	return nil
}

// enqueueDelayed is the delay manager's fire callback.
func (s *Scheduler) enqueueDelayed(entry EntryFunc, state any) {
	// Shutdown between scheduling and firing drops the task; Stop has
	// already cleared the heap, this only covers the in-flight fire.
	_, _ = s.Spawn(context.Background(), entry, state)
}

// WaitAll blocks until every spawned green thread has completed. It does not
// stop the scheduler; spawn/WaitAll cycles can repeat on the same instance.
// Returns immediately when nothing is active.
func (s *Scheduler) WaitAll() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	for s.active.Load() != 0 {
		s.idleCond.Wait()
	}
}

// taskDone retires one task. The lock acquire-release before Broadcast
// pairs with the re-check loop in WaitAll, so the zero observation cannot
// be missed between a waiter's check and its Wait.
func (s *Scheduler) taskDone() {
	if s.active.Add(-1) == 0 {
		s.idleMu.Lock()
		s.idleMu.Unlock() //nolint:staticcheck // empty section fences the waiter's check-then-Wait window
		s.idleCond.Broadcast()
	}
}

// Shutdown stops intake: subsequent spawns are rejected, pending delayed
// spawns are discarded, and workers exit once nothing is left locally or
// stealably. In-flight and already-queued tasks still run to completion.
func (s *Scheduler) Shutdown() {
	s.spawnMu.Lock()
	firstCall := s.shuttingDown.CompareAndSwap(false, true)
	s.spawnMu.Unlock()
	if !firstCall {
		return
	}

	dropped := s.delay.Stop()
	if dropped > 0 {
		s.logger.Warn("shutdown dropped pending delayed spawns", F("count", dropped))
	}
	close(s.quit)
	s.logger.Info("scheduler shutting down")
}

// Deinit joins all worker threads and frees the queues. It implies Shutdown
// when the caller has not requested one. After Deinit the scheduler is dead;
// it cannot be restarted.
func (s *Scheduler) Deinit() {
	s.Shutdown()
	s.workersDone.Wait()
	s.running.Store(false)

	// Normally empty by now; a scheduler that was never started can still
	// hold spawned threads.
	leftover := 0
	for _, w := range s.workers {
		for _, g := range w.queue.Drain() {
			g.Release()
			s.taskDone()
			leftover++
		}
	}
	if leftover > 0 {
		s.logger.Warn("deinit dropped queued green threads", F("count", leftover))
	}
	s.logger.Info("scheduler deinitialized")
}

// ActiveThreadCount returns the number of spawned green threads that have
// not yet completed (queued plus executing).
func (s *Scheduler) ActiveThreadCount() int {
	return int(s.active.Load())
}

// DelayedTaskCount returns the number of delayed spawns not yet fired.
func (s *Scheduler) DelayedTaskCount() int {
	return s.delay.TaskCount()
}

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int {
	return len(s.workers)
}

// IsRunning reports whether the workers are up.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Worker returns the i-th worker for inspection.
func (s *Scheduler) Worker(i int) *Worker {
	return s.workers[i]
}

// Stats returns a point-in-time snapshot of the scheduler's state.
func (s *Scheduler) Stats() SchedulerStats {
	depths := make([]int, len(s.workers))
	for i, w := range s.workers {
		depths[i] = w.queue.Len()
	}
	return SchedulerStats{
		Workers:     len(s.workers),
		Active:      s.ActiveThreadCount(),
		Delayed:     s.DelayedTaskCount(),
		Spawned:     s.spawned.Load(),
		Completed:   s.completed.Load(),
		Stolen:      s.stolen.Load(),
		QueueDepths: depths,
		Running:     s.IsRunning(),
	}
}

func (s *Scheduler) isShuttingDown() bool {
	return s.shuttingDown.Load()
}

// notify nudges one parked worker. Dropping the send when the buffer is
// full is safe: a buffered signal consumed after our enqueue makes the
// consumer rescan the queues and find the task.
func (s *Scheduler) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
