package greensched

import (
	"context"
	"sync"
	"time"

	"github.com/teamchong/greensched/core"
)

// Spawn creates a green thread running entry over state on s. Placement is
// round-robin across the workers' queues. The handle may be ignored; join
// through s.WaitAll.
//
// State stays owned by the caller and must outlive the run.
func Spawn[T any](s *core.Scheduler, entry func(*T), state *T) (core.TaskHandle, error) {
	return s.Spawn(context.Background(), func(_ context.Context, st any) {
		entry(st.(*T))
	}, state)
}

// SpawnCtx is Spawn for callers that hold a task context. When ctx belongs
// to a worker of s (a nested spawn from inside a running task), the new
// thread goes onto that worker's local queue.
func SpawnCtx[T any](ctx context.Context, s *core.Scheduler, entry func(*T), state *T) (core.TaskHandle, error) {
	return s.Spawn(ctx, func(_ context.Context, st any) {
		entry(st.(*T))
	}, state)
}

// SpawnAfter schedules entry over state to spawn once delay elapses.
func SpawnAfter[T any](s *core.Scheduler, entry func(*T), state *T, delay time.Duration) error {
	return s.SpawnAfter(func(_ context.Context, st any) {
		entry(st.(*T))
	}, state, delay)
}

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.Scheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler initializes and starts the global scheduler with the
// given number of workers. The worker count is always caller-supplied.
func InitGlobalScheduler(workers int) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return nil // Already initialized
	}

	s, err := core.NewScheduler(workers)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	globalScheduler = s
	return nil
}

// GetGlobalScheduler returns the global scheduler instance.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *core.Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("global scheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler drains and tears down the global scheduler.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		globalScheduler.Shutdown()
		globalScheduler.Deinit()
		globalScheduler = nil
	}
}
