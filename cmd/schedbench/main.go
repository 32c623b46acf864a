// Command schedbench spawns a configurable burst of green threads across a
// worker pool and reports throughput, optionally serving Prometheus metrics
// while it runs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/teamchong/greensched/core"
	obs "github.com/teamchong/greensched/observability/prometheus"
)

type benchState struct {
	counter *atomic.Int64
	buckets []atomic.Int64
	id      int
}

func main() {
	app := &cli.App{
		Name:  "schedbench",
		Usage: "benchmark the green-thread scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "tasks",
				Aliases: []string{"n"},
				Value:   100000,
				Usage:   "number of green threads to spawn",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   runtime.NumCPU(),
				Usage:   "number of workers",
			},
			&cli.IntFlag{
				Name:  "buckets",
				Value: 4,
				Usage: "distribution buckets (task_id mod buckets)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address (e.g. :2112)",
			},
		},
		Action: benchAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func benchAction(c *cli.Context) error {
	tasks := c.Int("tasks")
	workers := c.Int("workers")
	bucketCount := c.Int("buckets")

	if tasks < 1 {
		return cli.Exit("tasks must be at least 1", 1)
	}
	if bucketCount < 1 {
		return cli.Exit("buckets must be at least 1", 1)
	}

	config := core.DefaultSchedulerConfig()

	var server *http.Server
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter("greensched", reg, obs.ExporterOptions{})
		if err != nil {
			return err
		}
		config.Metrics = exporter

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: addr, Handler: mux}
		go func() {
			_ = server.ListenAndServe()
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
		fmt.Printf("Metrics: http://%s/metrics\n", addr)
	}

	sched, err := core.NewSchedulerWithConfig(workers, config)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Deinit()

	var counter atomic.Int64
	buckets := make([]atomic.Int64, bucketCount)
	states := make([]benchState, tasks)

	entry := func(_ context.Context, st any) {
		b := st.(*benchState)
		b.counter.Add(1)
		b.buckets[b.id%len(b.buckets)].Add(1)
	}

	start := time.Now()
	for i := 0; i < tasks; i++ {
		states[i] = benchState{counter: &counter, buckets: buckets, id: i}
		if _, err := sched.Spawn(context.Background(), entry, &states[i]); err != nil {
			return err
		}
	}
	sched.WaitAll()
	elapsed := time.Since(start)

	if got := counter.Load(); got != int64(tasks) {
		return cli.Exit(fmt.Sprintf("counter mismatch: expected %d, got %d", tasks, got), 1)
	}

	stats := sched.Stats()
	fmt.Printf("Tasks: %d\n", tasks)
	fmt.Printf("Workers: %d\n", workers)
	fmt.Printf("Time: %.3fs\n", elapsed.Seconds())
	fmt.Printf("Tasks/sec: %.0f\n", float64(tasks)/elapsed.Seconds())
	fmt.Printf("Stolen: %d\n", stats.Stolen)
	for i := range buckets {
		fmt.Printf("Bucket %d: %d\n", i, buckets[i].Load())
	}
	return nil
}
