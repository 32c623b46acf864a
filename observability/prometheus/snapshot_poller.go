package prometheus

import (
	"context"
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/teamchong/greensched/core"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedsMu sync.RWMutex
	scheds   map[string]SchedulerSnapshotProvider

	schedWorkers   *prom.GaugeVec
	schedActive    *prom.GaugeVec
	schedDelayed   *prom.GaugeVec
	schedSpawned   *prom.GaugeVec
	schedCompleted *prom.GaugeVec
	schedStolen    *prom.GaugeVec
	schedRunning   *prom.GaugeVec
	schedQueue     *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_workers",
		Help:      "Number of workers per scheduler.",
	}, []string{"scheduler"})
	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_active",
		Help:      "Green threads spawned but not yet completed.",
	}, []string{"scheduler"})
	delayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_delayed",
		Help:      "Delayed spawns not yet fired.",
	}, []string{"scheduler"})
	spawned := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_spawned",
		Help:      "Spawned green thread count snapshot.",
	}, []string{"scheduler"})
	completed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_completed",
		Help:      "Completed green thread count snapshot.",
	}, []string{"scheduler"})
	stolen := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_stolen",
		Help:      "Stolen green thread count snapshot.",
	}, []string{"scheduler"})
	running := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_running",
		Help:      "Scheduler running state (1=running, 0=stopped).",
	}, []string{"scheduler"})
	queue := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "greensched",
		Name:      "scheduler_queue_depth",
		Help:      "Local queue depth per worker.",
	}, []string{"scheduler", "worker"})

	var err error
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if delayed, err = registerCollector(reg, delayed); err != nil {
		return nil, err
	}
	if spawned, err = registerCollector(reg, spawned); err != nil {
		return nil, err
	}
	if completed, err = registerCollector(reg, completed); err != nil {
		return nil, err
	}
	if stolen, err = registerCollector(reg, stolen); err != nil {
		return nil, err
	}
	if running, err = registerCollector(reg, running); err != nil {
		return nil, err
	}
	if queue, err = registerCollector(reg, queue); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		scheds:         make(map[string]SchedulerSnapshotProvider),
		schedWorkers:   workers,
		schedActive:    active,
		schedDelayed:   delayed,
		schedSpawned:   spawned,
		schedCompleted: completed,
		schedStolen:    stolen,
		schedRunning:   running,
		schedQueue:     queue,
	}, nil
}

// AddScheduler registers a scheduler under a stable name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	p.schedsMu.Lock()
	defer p.schedsMu.Unlock()
	p.scheds[name] = provider
}

// RemoveScheduler unregisters a scheduler.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	p.schedsMu.Lock()
	defer p.schedsMu.Unlock()
	delete(p.scheds, name)
}

// Start begins polling until Stop or ctx cancellation.
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.running {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(pollCtx, p.done)
}

// Stop halts polling. Safe to call more than once.
func (p *SnapshotPoller) Stop() {
	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collect()
		}
	}
}

func (p *SnapshotPoller) collect() {
	p.schedsMu.RLock()
	defer p.schedsMu.RUnlock()

	for name, provider := range p.scheds {
		stats := provider.Stats()
		p.schedWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.schedActive.WithLabelValues(name).Set(float64(stats.Active))
		p.schedDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.schedSpawned.WithLabelValues(name).Set(float64(stats.Spawned))
		p.schedCompleted.WithLabelValues(name).Set(float64(stats.Completed))
		p.schedStolen.WithLabelValues(name).Set(float64(stats.Stolen))
		if stats.Running {
			p.schedRunning.WithLabelValues(name).Set(1)
		} else {
			p.schedRunning.WithLabelValues(name).Set(0)
		}
		for i, depth := range stats.QueueDepths {
			p.schedQueue.WithLabelValues(name, strconv.Itoa(i)).Set(float64(depth))
		}
	}
}
