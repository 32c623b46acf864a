package greensched

import "github.com/teamchong/greensched/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the greensched package for most use cases.

// Scheduler runs green threads on a fixed pool of work-stealing workers.
type Scheduler = core.Scheduler

// SchedulerConfig holds optional collaborators for a Scheduler.
type SchedulerConfig = core.SchedulerConfig

// SchedulerStats is a point-in-time snapshot of a scheduler's state.
type SchedulerStats = core.SchedulerStats

// GreenThread is a run-once lightweight task.
type GreenThread = core.GreenThread

// EntryFunc is the untyped entry point of a green thread.
type EntryFunc = core.EntryFunc

// TaskHandle identifies a spawned green thread.
type TaskHandle = core.TaskHandle

// ThreadState is the green thread lifecycle state.
type ThreadState = core.ThreadState

// WorkerState describes what a worker is currently doing.
type WorkerState = core.WorkerState

// Metrics collects scheduler execution events.
type Metrics = core.Metrics

// PanicHandler handles panics recovered from green threads.
type PanicHandler = core.PanicHandler

// Logger is the pluggable structured logger.
type Logger = core.Logger

// Green thread lifecycle states.
const (
	ThreadReady     = core.ThreadReady
	ThreadRunning   = core.ThreadRunning
	ThreadCompleted = core.ThreadCompleted
)

// StackSize is the per-thread dedicated stack size in bytes.
const StackSize = core.StackSize

// Convenience re-exports.
var (
	DefaultSchedulerConfig = core.DefaultSchedulerConfig
	WorkerFromContext      = core.WorkerFromContext
)
