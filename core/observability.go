package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a green thread panics during execution.
// The worker recovers the panic, hands it here, and still decrements the
// active-task counter, so WaitAll never hangs on a failed task.
//
// Implementations must be safe for concurrent use.
type PanicHandler interface {
	// HandlePanic is called with the worker's context, the worker id, the
	// id of the green thread that panicked, the recovered value and the
	// stack trace captured at recovery.
	HandlePanic(ctx context.Context, workerID int, threadID uint64, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, workerID int, threadID uint64, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d] green thread %d panic: %v\nStack trace:\n%s",
		workerID, threadID, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects scheduler execution events. Implementations can forward
// them to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; they run on the hot path of
// workers and spawners.
type Metrics interface {
	// RecordSpawn is called once per green thread entering the scheduler.
	RecordSpawn()

	// RecordCompletion is called after a green thread finishes, with its
	// execution duration.
	RecordCompletion(duration time.Duration)

	// RecordSteal is called when a worker steals from a peer, with the
	// number of threads moved.
	RecordSteal(count int)

	// RecordPanic is called when a green thread panics.
	RecordPanic(panicInfo any)

	// RecordRejected is called when a spawn is rejected (e.g. shutdown).
	RecordRejected(reason string)

	// RecordQueueDepth reports the depth of one worker's queue, sampled
	// after an enqueue and after a completion.
	RecordQueueDepth(workerID int, depth int)
}

// NilMetrics is the no-op default when no metrics collector is provided.
type NilMetrics struct{}

// RecordSpawn is a no-op.
func (m *NilMetrics) RecordSpawn() {}

// RecordCompletion is a no-op.
func (m *NilMetrics) RecordCompletion(duration time.Duration) {}

// RecordSteal is a no-op.
func (m *NilMetrics) RecordSteal(count int) {}

// RecordPanic is a no-op.
func (m *NilMetrics) RecordPanic(panicInfo any) {}

// RecordRejected is a no-op.
func (m *NilMetrics) RecordRejected(reason string) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(workerID int, depth int) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected spawns
// =============================================================================

// RejectedTaskHandler is called when a spawn is rejected by the scheduler,
// which happens once Shutdown has been requested.
//
// Implementations must be safe for concurrent use.
type RejectedTaskHandler interface {
	// HandleRejectedTask is called with the reason for the rejection.
	HandleRejectedTask(reason string)
}

// DefaultRejectedTaskHandler logs rejected spawns.
type DefaultRejectedTaskHandler struct{}

// HandleRejectedTask logs the rejected spawn.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(reason string) {
	fmt.Printf("[Scheduler] spawn rejected: %s\n", reason)
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds optional collaborators for a Scheduler. Every field
// may be nil; defaults are filled in by NewSchedulerWithConfig.
type SchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics receives execution events. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a spawn is rejected. Defaults to
	// DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Logger receives lifecycle events. Defaults to NopLogger.
	Logger Logger
}

// DefaultSchedulerConfig returns a config with default collaborators.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              &NopLogger{},
	}
}

// =============================================================================
// SchedulerStats: Runtime snapshot
// =============================================================================

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Workers     int
	Active      int
	Delayed     int
	Spawned     uint64
	Completed   uint64
	Stolen      uint64
	QueueDepths []int
	Running     bool
}
