// Package queue bounds how many transcription requests run at once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
)

var (
	// ErrQueueFull is returned when the backlog is at capacity.
	ErrQueueFull = errors.New("transcription queue is full")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

// Processor runs a single request. *pipeline.Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// WorkerPool runs submitted requests on a fixed number of workers.
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	processor   Processor
	log         *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool with workerCount workers and room for
// queueSize waiting jobs.
func NewWorkerPool(workerCount, queueSize int, processor Processor, log *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		processor:   processor,
		log:         log,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	wp.log.Info("starting worker pool", slog.Int("workers", wp.workerCount), slog.Int("queue_size", cap(wp.jobQueue)))
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops accepting jobs and waits for queued ones to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.log.Info("worker pool stopped")
}

// Submit queues req and waits for its result. With a zero queue size the
// call waits for a free worker until ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	job := newJob(ctx, req)
	if err := wp.enqueue(ctx, job); err != nil {
		return nil, err
	}

	select {
	case r := <-job.result:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (wp *WorkerPool) enqueue(ctx context.Context, job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}

	if cap(wp.jobQueue) == 0 {
		select {
		case wp.jobQueue <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case wp.jobQueue <- job:
		wp.log.Debug("job enqueued", slog.String("source", job.Request.Source), slog.Int("queued", len(wp.jobQueue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many jobs are waiting for a worker.
func (wp *WorkerPool) Pending() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	wp.log.Debug("worker started", slog.Int("worker", id))

	for job := range wp.jobQueue {
		if err := job.ctx.Err(); err != nil {
			wp.log.Debug("skipping abandoned job", slog.Int("worker", id))
			job.result <- jobResult{err: err}
			continue
		}
		wp.log.Debug("processing job",
			slog.Int("worker", id),
			slog.Duration("waited", time.Since(job.CreatedAt)))
		res, err := wp.run(id, job)
		job.result <- jobResult{res: res, err: err}
	}
}

// run calls the processor, turning a panic into a TranscriptionError.
func (wp *WorkerPool) run(id int, job *Job) (res *pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error("worker panic",
				slog.Int("worker", id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res, err = nil, &pipeline.TranscriptionError{Stage: "worker", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return wp.processor.Process(job.ctx, job.Request)
}
