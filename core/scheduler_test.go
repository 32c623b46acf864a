package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s, err := NewScheduler(workers)
	if err != nil {
		t.Fatalf("NewScheduler(%d) failed: %v", workers, err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Deinit)
	return s
}

func spawnN(t *testing.T, s *Scheduler, n int, entry EntryFunc, state any) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.Spawn(context.Background(), entry, state); err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}
}

func TestScheduler_New_Validation(t *testing.T) {
	if _, err := NewScheduler(0); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("NewScheduler(0) error = %v, want ErrNoWorkers", err)
	}
	if _, err := NewScheduler(-3); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("NewScheduler(-3) error = %v, want ErrNoWorkers", err)
	}

	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2) failed: %v", err)
	}
	if s.WorkerCount() != 2 {
		t.Errorf("WorkerCount = %d, want 2", s.WorkerCount())
	}
	if s.IsRunning() {
		t.Error("scheduler running before Start")
	}
	s.Deinit()
}

func TestScheduler_DoubleStart(t *testing.T) {
	s := startScheduler(t, 2)
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestScheduler_SpawnNilEntry(t *testing.T) {
	s := startScheduler(t, 1)
	if _, err := s.Spawn(context.Background(), nil, nil); !errors.Is(err, ErrNilEntry) {
		t.Errorf("Spawn(nil) error = %v, want ErrNilEntry", err)
	}
}

// Exact join count across spawn volumes and pool sizes: after WaitAll the
// shared counter equals the number of spawned threads, every time.
func TestScheduler_ExactJoinCount(t *testing.T) {
	taskCounts := []int{100, 1000, 100000}
	workerCounts := []int{1, 2, 4, 8, runtime.NumCPU()}

	for _, workers := range workerCounts {
		for _, tasks := range taskCounts {
			name := fmt.Sprintf("workers=%d/tasks=%d", workers, tasks)
			t.Run(name, func(t *testing.T) {
				if tasks >= 100000 && testing.Short() {
					t.Skip("skipping 100k-task case in short mode")
				}
				s := startScheduler(t, workers)

				var counter atomic.Int64
				spawnN(t, s, tasks, func(ctx context.Context, state any) {
					state.(*atomic.Int64).Add(1)
				}, &counter)

				s.WaitAll()

				if got := counter.Load(); got != int64(tasks) {
					t.Errorf("counter = %d, want %d", got, tasks)
				}
				if got := s.ActiveThreadCount(); got != 0 {
					t.Errorf("active after WaitAll = %d, want 0", got)
				}
			})
		}
	}
}

// Exactly-once execution: every per-task flag flips exactly once.
func TestScheduler_ExactlyOnceExecution(t *testing.T) {
	const tasks = 10000
	s := startScheduler(t, 4)

	flags := make([]int32, tasks)
	type slot struct {
		flags []int32
		i     int
	}
	slots := make([]slot, tasks)
	for i := 0; i < tasks; i++ {
		slots[i] = slot{flags: flags, i: i}
		if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
			sl := state.(*slot)
			atomic.AddInt32(&sl.flags[sl.i], 1)
		}, &slots[i]); err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}

	s.WaitAll()

	for i := range flags {
		if got := atomic.LoadInt32(&flags[i]); got != 1 {
			t.Fatalf("task %d executed %d times, want 1", i, got)
		}
	}
}

// Scenario: 100 tasks over 4 workers each increment one shared counter.
func TestScheduler_SharedCounterScenario(t *testing.T) {
	s := startScheduler(t, 4)

	var counter atomic.Int64
	spawnN(t, s, 100, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)

	s.WaitAll()

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

// Scenario: 400 tasks over 4 workers, bucketed by task id mod 4. The total
// must be exact and every bucket must have received work.
func TestScheduler_WorkDistributionScenario(t *testing.T) {
	const tasks = 400
	const bucketCount = 4
	s := startScheduler(t, 4)

	buckets := make([]atomic.Int64, bucketCount)
	type job struct {
		buckets []atomic.Int64
		id      int
	}
	jobs := make([]job, tasks)
	for i := 0; i < tasks; i++ {
		jobs[i] = job{buckets: buckets, id: i}
		if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
			j := state.(*job)
			// A little work so tasks overlap across workers.
			sum := 0
			for k := 0; k < 100; k++ {
				sum += k * j.id
			}
			_ = sum
			j.buckets[j.id%bucketCount].Add(1)
		}, &jobs[i]); err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}

	s.WaitAll()

	total := int64(0)
	for i := range buckets {
		n := buckets[i].Load()
		if n == 0 {
			t.Errorf("bucket %d received no work", i)
		}
		total += n
	}
	if total != tasks {
		t.Errorf("total = %d, want %d", total, tasks)
	}
}

// Reusability: the same scheduler handles a second generation of work after
// a WaitAll.
func TestScheduler_ReusableAcrossGenerations(t *testing.T) {
	s := startScheduler(t, 2)

	var counter atomic.Int64
	entry := func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}

	spawnN(t, s, 50, entry, &counter)
	s.WaitAll()
	if got := counter.Load(); got != 50 {
		t.Fatalf("after first generation: counter = %d, want 50", got)
	}

	spawnN(t, s, 70, entry, &counter)
	s.WaitAll()
	if got := counter.Load(); got != 120 {
		t.Fatalf("after second generation: counter = %d, want 120", got)
	}
}

// Empty scheduler: WaitAll with zero spawns returns promptly.
func TestScheduler_WaitAllOnEmpty(t *testing.T) {
	s := startScheduler(t, 4)

	done := make(chan struct{})
	go func() {
		s.WaitAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll on an empty scheduler did not return")
	}

	if got := s.ActiveThreadCount(); got != 0 {
		t.Errorf("ActiveThreadCount = %d, want 0", got)
	}
}

// Spawning before Start queues work that the workers pick up once running.
func TestScheduler_SpawnBeforeStart(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(s.Deinit)

	var counter atomic.Int64
	for i := 0; i < 25; i++ {
		if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
			state.(*atomic.Int64).Add(1)
		}, &counter); err != nil {
			t.Fatalf("Spawn before Start failed: %v", err)
		}
	}
	if got := s.ActiveThreadCount(); got != 25 {
		t.Fatalf("active before Start = %d, want 25", got)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.WaitAll()

	if got := counter.Load(); got != 25 {
		t.Errorf("counter = %d, want 25", got)
	}
}

// Nested spawns issued through the task's context land on the spawning
// worker's queue and still join through the same WaitAll.
func TestScheduler_NestedSpawn(t *testing.T) {
	s := startScheduler(t, 4)

	var counter atomic.Int64
	var sawWorker atomic.Bool

	type fanout struct {
		counter *atomic.Int64
		depth   int
	}

	var entry EntryFunc
	entry = func(ctx context.Context, state any) {
		f := state.(*fanout)
		f.counter.Add(1)
		if WorkerFromContext(ctx) != nil {
			sawWorker.Store(true)
		}
		if f.depth > 0 {
			child := &fanout{counter: f.counter, depth: f.depth - 1}
			if _, err := s.Spawn(ctx, entry, child); err != nil {
				t.Errorf("nested Spawn failed: %v", err)
			}
		}
	}

	// 10 roots, each chaining 9 nested spawns: 100 runs in total.
	for i := 0; i < 10; i++ {
		if _, err := s.Spawn(context.Background(), entry, &fanout{counter: &counter, depth: 9}); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}

	s.WaitAll()

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
	if !sawWorker.Load() {
		t.Error("task context did not carry its worker")
	}
}

// Concurrent external spawners: Spawn is safe from any goroutine.
func TestScheduler_ConcurrentSpawners(t *testing.T) {
	const spawners = 8
	const perSpawner = 500
	s := startScheduler(t, 4)

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < spawners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSpawner; j++ {
				if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
					state.(*atomic.Int64).Add(1)
				}, &counter); err != nil {
					t.Errorf("Spawn failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	s.WaitAll()

	if got := counter.Load(); got != spawners*perSpawner {
		t.Errorf("counter = %d, want %d", got, spawners*perSpawner)
	}
}

type recordingRejectedHandler struct {
	count atomic.Int64
}

func (h *recordingRejectedHandler) HandleRejectedTask(reason string) {
	h.count.Add(1)
}

func TestScheduler_SpawnAfterShutdownRejected(t *testing.T) {
	rejected := &recordingRejectedHandler{}
	config := DefaultSchedulerConfig()
	config.RejectedTaskHandler = rejected

	s, err := NewSchedulerWithConfig(2, config)
	if err != nil {
		t.Fatalf("NewSchedulerWithConfig failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var counter atomic.Int64
	spawnN(t, s, 20, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)
	s.WaitAll()

	s.Shutdown()

	if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {}, nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Spawn after Shutdown error = %v, want ErrShuttingDown", err)
	}
	if got := rejected.count.Load(); got != 1 {
		t.Errorf("rejected handler called %d times, want 1", got)
	}

	s.Deinit()

	if got := counter.Load(); got != 20 {
		t.Errorf("counter = %d, want 20", got)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after Deinit")
	}
}

// Shutdown drains already-queued work before the workers exit.
func TestScheduler_ShutdownDrainsQueuedWork(t *testing.T) {
	s := startScheduler(t, 2)

	var counter atomic.Int64
	block := make(chan struct{})
	type gated struct {
		counter *atomic.Int64
		gate    chan struct{}
	}
	st := &gated{counter: &counter, gate: block}

	// Occupy both workers, then queue more work behind them.
	for i := 0; i < 2; i++ {
		if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
			g := state.(*gated)
			<-g.gate
			g.counter.Add(1)
		}, st); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}
	spawnN(t, s, 30, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)

	s.Shutdown()
	close(block)
	s.WaitAll()

	if got := counter.Load(); got != 32 {
		t.Errorf("counter = %d, want 32 (queued work must survive Shutdown)", got)
	}
}

// A spawn accepted concurrently with Shutdown must still run: workers
// rescan the queues after observing the shutdown flag, so a thread enqueued
// just before intake closed is never stranded.
func TestScheduler_ShutdownSpawnRaceRunsAcceptedTask(t *testing.T) {
	iterations := 500
	if testing.Short() {
		iterations = 50
	}
	for i := 0; i < iterations; i++ {
		s, err := NewScheduler(2)
		if err != nil {
			t.Fatalf("NewScheduler failed: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		var ran atomic.Int64
		var spawnErr error
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, spawnErr = s.Spawn(context.Background(), func(ctx context.Context, state any) {
				state.(*atomic.Int64).Add(1)
			}, &ran)
		}()
		go func() {
			defer wg.Done()
			<-start
			s.Shutdown()
		}()
		close(start)
		wg.Wait()

		// Deinit joins the workers; it must never be the one to retire an
		// accepted thread.
		s.Deinit()

		if spawnErr != nil {
			if !errors.Is(spawnErr, ErrShuttingDown) {
				t.Fatalf("iteration %d: spawn error = %v, want ErrShuttingDown", i, spawnErr)
			}
			continue
		}
		if got := ran.Load(); got != 1 {
			t.Fatalf("iteration %d: accepted spawn ran %d times, want 1", i, got)
		}
	}
}

type recordingPanicHandler struct {
	count atomic.Int64
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, workerID int, threadID uint64, panicInfo any, stackTrace []byte) {
	h.count.Add(1)
}

// A panicking task is contained: the handler fires, the counter is still
// decremented and WaitAll returns.
func TestScheduler_PanicContainment(t *testing.T) {
	handler := &recordingPanicHandler{}
	config := DefaultSchedulerConfig()
	config.PanicHandler = handler

	s, err := NewSchedulerWithConfig(2, config)
	if err != nil {
		t.Fatalf("NewSchedulerWithConfig failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Deinit)

	var counter atomic.Int64
	spawnN(t, s, 10, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)
	for i := 0; i < 3; i++ {
		if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
			panic("task failure")
		}, nil); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.WaitAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitAll hung after task panics")
	}

	if got := handler.count.Load(); got != 3 {
		t.Errorf("panic handler called %d times, want 3", got)
	}
	if got := counter.Load(); got != 10 {
		t.Errorf("counter = %d, want 10", got)
	}
	if got := s.ActiveThreadCount(); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}

type recordingMetrics struct {
	spawns      atomic.Int64
	completions atomic.Int64
	depthCalls  atomic.Int64
}

func (m *recordingMetrics) RecordSpawn()                         { m.spawns.Add(1) }
func (m *recordingMetrics) RecordCompletion(d time.Duration)     { m.completions.Add(1) }
func (m *recordingMetrics) RecordSteal(count int)                {}
func (m *recordingMetrics) RecordPanic(panicInfo any)            {}
func (m *recordingMetrics) RecordRejected(reason string)         {}
func (m *recordingMetrics) RecordQueueDepth(workerID, depth int) { m.depthCalls.Add(1) }

// Queue depth is sampled once per enqueue and once per completion.
func TestScheduler_MetricsReceiveQueueDepth(t *testing.T) {
	const tasks = 40
	metrics := &recordingMetrics{}
	config := DefaultSchedulerConfig()
	config.Metrics = metrics

	s, err := NewSchedulerWithConfig(2, config)
	if err != nil {
		t.Fatalf("NewSchedulerWithConfig failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Deinit)

	var counter atomic.Int64
	spawnN(t, s, tasks, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)
	s.WaitAll()

	if got := metrics.spawns.Load(); got != tasks {
		t.Errorf("RecordSpawn called %d times, want %d", got, tasks)
	}
	if got := metrics.completions.Load(); got != tasks {
		t.Errorf("RecordCompletion called %d times, want %d", got, tasks)
	}
	if got := metrics.depthCalls.Load(); got != 2*tasks {
		t.Errorf("RecordQueueDepth called %d times, want %d", got, 2*tasks)
	}
}

func TestScheduler_Stats(t *testing.T) {
	s := startScheduler(t, 3)

	var counter atomic.Int64
	spawnN(t, s, 90, func(ctx context.Context, state any) {
		state.(*atomic.Int64).Add(1)
	}, &counter)
	s.WaitAll()

	stats := s.Stats()
	if stats.Workers != 3 {
		t.Errorf("Workers = %d, want 3", stats.Workers)
	}
	if stats.Spawned != 90 {
		t.Errorf("Spawned = %d, want 90", stats.Spawned)
	}
	if stats.Completed != 90 {
		t.Errorf("Completed = %d, want 90", stats.Completed)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if len(stats.QueueDepths) != 3 {
		t.Errorf("QueueDepths length = %d, want 3", len(stats.QueueDepths))
	}
	if !stats.Running {
		t.Error("Running = false, want true")
	}
}

func TestScheduler_WorkerStatesObservable(t *testing.T) {
	s := startScheduler(t, 2)

	gate := make(chan struct{})
	started := make(chan struct{})
	type gated struct {
		gate    chan struct{}
		started chan struct{}
	}
	if _, err := s.Spawn(context.Background(), func(ctx context.Context, state any) {
		g := state.(*gated)
		close(g.started)
		<-g.gate
	}, &gated{gate: gate, started: started}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	<-started
	executing := false
	for i := 0; i < s.WorkerCount(); i++ {
		if s.Worker(i).State() == WorkerExecuting {
			executing = true
		}
	}
	if !executing {
		t.Error("no worker in executing state while a task runs")
	}

	close(gate)
	s.WaitAll()
}
