package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tenant-service/pkg/config"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue full")

type task struct {
	name string
	md   Metadata
	fn   Func
}

// Dispatcher runs background jobs on a fixed worker pool. Each job gets
// its own context derived from the dispatcher's base context, so tenant
// scope installed by one job is invisible to every other job even when
// they share a worker.
type Dispatcher struct {
	queue   chan task
	workers int
	log     *zap.Logger

	stop sync.Once
	wg   sync.WaitGroup
}

// NewDispatcher creates a dispatcher sized from configuration.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	workers := cfg.Job.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.Job.QueueSize
	if size <= 0 {
		size = 16
	}
	return &Dispatcher{
		queue:   make(chan task, size),
		workers: workers,
		log:     logger.GetLogger(),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.stop.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue schedules a job body with tenant context hydrated from its
// metadata.
func (d *Dispatcher) Enqueue(name string, md Metadata, fn Func) error {
	return d.enqueue(name, md, WithTenantContext(fn))
}

// EnqueueAdmin schedules a cross-tenant maintenance job running under
// the administrative bypass scope.
func (d *Dispatcher) EnqueueAdmin(name string, md Metadata, fn Func) error {
	return d.enqueue(name, md, WithAdminContext(fn))
}

func (d *Dispatcher) enqueue(name string, md Metadata, fn Func) error {
	select {
	case d.queue <- task{name: name, md: md, fn: fn}:
		return nil
	default:
		prometheus.RecordJob(name, "rejected")
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			prometheus.RecordJob(t.name, "panic")
			d.log.Error("Job panicked",
				zap.String("job", t.name),
				zap.Any("panic", r))
		}
	}()

	if err := t.fn(ctx, t.md); err != nil {
		prometheus.RecordJob(t.name, "error")
		d.log.Error("Job failed", zap.String("job", t.name), zap.Error(err))
		return
	}
	prometheus.RecordJob(t.name, "ok")
	d.log.Debug("Job completed", zap.String("job", t.name))
}
