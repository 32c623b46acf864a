// Package greensched provides a work-stealing green-thread scheduler for Go.
//
// The scheduler runs lightweight, run-to-completion tasks ("green threads")
// over a fixed pool of OS-thread-locked workers. Each worker owns a local
// deque and steals from its peers when idle. It is a general-purpose
// lightweight-task engine meant to be embedded in a larger runtime.
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	greensched.InitGlobalScheduler(4) // 4 workers
//	defer greensched.ShutdownGlobalScheduler()
//
// Spawn typed tasks and join them:
//
//	type job struct{ n, result int }
//
//	j := &job{n: 21}
//	greensched.Spawn(greensched.GetGlobalScheduler(), func(j *job) {
//		j.result = j.n * 2
//	}, j)
//	greensched.GetGlobalScheduler().WaitAll()
//	// j.result == 42
//
// # Key Concepts
//
// GreenThread: a run-once task with a dedicated fixed-size stack and a
// monotonic ready/running/completed state machine.
//
// Scheduler: owns the workers and their queues; exposes Spawn, WaitAll,
// Shutdown and Deinit. WaitAll blocks until every spawned thread has
// completed and is reusable across generations of work.
//
// Worker: one OS thread executing green threads from its own queue,
// stealing half of a peer's queue when idle.
//
// # Semantics
//
// Every spawned thread runs exactly once. A thread's completion
// happens-before the join counter's decrement, and the counter reaching
// zero happens-before WaitAll returns, so side effects written by tasks are
// visible after WaitAll. No ordering between sibling tasks is implied.
//
// Tasks are not preempted and there is no yield: a blocking task occupies
// its OS thread for the duration. Shutdown is a cooperative drain, not a
// cancellation.
//
// # Example
//
//	import (
//		"github.com/teamchong/greensched"
//		"github.com/teamchong/greensched/core"
//	)
//
//	func main() {
//		sched, err := core.NewScheduler(4)
//		if err != nil {
//			panic(err)
//		}
//		if err := sched.Start(); err != nil {
//			panic(err)
//		}
//		defer sched.Deinit()
//
//		var counter atomic.Int64
//		for i := 0; i < 100; i++ {
//			greensched.Spawn(sched, func(c *atomic.Int64) { c.Add(1) }, &counter)
//		}
//		sched.WaitAll()
//		// counter.Load() == 100
//	}
//
// For Prometheus integration, see observability/prometheus.
package greensched
