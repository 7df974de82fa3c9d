// Package queuesvc runs alert tasks off the request path: in-process (Memory) or over NATS JetStream.
package queuesvc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
)

// Queue is an alert.TaskQueue with a worker lifecycle.
type Queue interface {
	alert.TaskQueue
	Start(handler alert.TaskHandler) error
	Stop(ctx context.Context) error
}

// run handles one task with its own deadline, detached from whoever enqueued it.
func run(handler alert.TaskHandler, t alert.Task, timeout time.Duration, logger core.Logger) {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("alert task panicked", errors.Errorf("%v", r), map[string]interface{}{"task_id": t.ID, "kind": t.Kind})
		}
	}()
	if err := handler(ctx, t); err != nil {
		logger.Error("handling alert task", err, map[string]interface{}{
			"task_id": t.ID, "kind": t.Kind, "student_id": t.StudentID, "course_id": t.CourseID,
		})
	}
}

// Memory is a buffered channel drained by a fixed pool of workers. Tasks are lost on exit;
// the scheduled sweep regenerates whatever they would have produced.
type Memory struct {
	tasks   chan alert.Task
	workers int
	timeout time.Duration
	logger  core.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

var _ Queue = (*Memory)(nil)

func NewMemory(size, workers int, timeout time.Duration, logger core.Logger) *Memory {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &Memory{
		tasks:   make(chan alert.Task, size),
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue never blocks: a full buffer is an error.
func (q *Memory) Enqueue(_ context.Context, t alert.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Memory) Start(handler alert.TaskHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for t := range q.tasks {
				run(handler, t, q.timeout, q.logger)
			}
		}()
	}
	return nil
}

// Stop rejects new tasks and waits for the workers to drain the buffer, or for ctx.
func (q *Memory) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "draining task queue")
	}
}
