// Package tasks runs fire-and-forget work off the request path.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/askbot/internal/metrics"
)

// ErrStopped is returned by Submit after Stop has been called
var ErrStopped = errors.New("task runner stopped")

// Task is a unit of background work
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Runner drains an unbounded FIFO queue with a fixed number of workers.
// Submit never blocks. Task errors and panics are logged and counted, never
// returned to the submitter.
type Runner struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner starts workers goroutines. workers < 1 is treated as 1.
func NewRunner(workers int, logger zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{logger: logger, ctx: ctx, cancel: cancel}
	r.cond = sync.NewCond(&r.mu)

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

// Submit enqueues task under name. It returns ErrStopped if the runner no
// longer accepts work.
func (r *Runner) Submit(name string, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStopped
	}
	r.queue = append(r.queue, job{name: name, task: task})
	r.cond.Signal()
	return nil
}

// pending returns the number of queued, not yet started tasks
func (r *Runner) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stop refuses new work and waits for queued tasks to finish. If ctx ends
// first, running tasks see their context cancelled and queued ones are
// dropped.
func (r *Runner) Stop(ctx context.Context) error {
	r.logger.Info().Int("pending", r.pending()).Msg("Draining background tasks")
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.mu.Lock()
		dropped := len(r.queue)
		r.queue = nil
		r.mu.Unlock()
		if dropped > 0 {
			r.logger.Warn().Int("dropped", dropped).Msg("Dropped queued background tasks")
		}
		<-done
		return ctx.Err()
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		j := r.queue[0]
		r.queue[0] = job{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.run(j)
	}
}

func (r *Runner) run(j job) {
	defer func() {
		if p := recover(); p != nil {
			metrics.BackgroundTaskFailures.WithLabelValues(j.name).Inc()
			r.logger.Error().
				Str("task", j.name).
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
		}
	}()

	if err := j.task(r.ctx); err != nil {
		metrics.BackgroundTaskFailures.WithLabelValues(j.name).Inc()
		r.logger.Error().Err(err).Str("task", j.name).Msg("Task failed")
	}
}
