package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
)

const (
	TotalMaxWorkers = 10
	DefaultAttempts = 3
)

var ErrStopped = errors.New("worker pool is shutting down")

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs submitted jobs with at most maxWorkers in flight. A failing job
// is retried with a linearly growing pause.
type Pool[T any] struct {
	sem           chan struct{}
	activeWorkers atomic.Int32
	wg            sync.WaitGroup
	quit          chan struct{}
	attempts      int
	pause         time.Duration
	logger        lg.Logger

	mu      sync.Mutex
	stopped bool
}

func NewPool[T any](maxWorkers, attempts int, logger lg.Logger) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &Pool[T]{
		sem:      make(chan struct{}, maxWorkers),
		quit:     make(chan struct{}),
		attempts: attempts,
		pause:    time.Second,
		logger:   logger,
	}
}

// Stop rejects new jobs and waits for the running ones.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit starts job on a free worker. It blocks while all workers are busy.
func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-p.quit:
		p.wg.Done()
		p.logger.Info("worker pool is shutting down, job rejected")
		return ErrStopped
	case <-job.Ctx.Done():
		p.wg.Done()
		return job.Ctx.Err()
	}
	p.activeWorkers.Add(1)
	p.logger.Debug("job submitted", lg.Any("job", job.Payload))
	go p.worker(job)
	return nil
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer p.activeWorkers.Add(-1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := p.logger.With(lg.Any("job", job.Payload))
	logger.Debug("worker started", lg.Int("workers", int(p.activeWorkers.Load())))

	if err := p.run(job); err != nil {
		if job.Ctx.Err() != nil {
			logger.Info("job canceled", lg.Err(job.Ctx.Err()))
			return
		}
		logger.Error("job failed", lg.Err(err))
		return
	}
	logger.Debug("worker finished", lg.Int("workers", int(p.activeWorkers.Load())))
}

func (p *Pool[T]) run(job Job[T]) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = job.Fn(job.Ctx, job.Payload); err == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * p.pause)
		select {
		case <-job.Ctx.Done():
			t.Stop()
			return job.Ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", p.attempts, err)
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return p.activeWorkers.Load()
}
