package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task represents a queued background unit of work.
type Task struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a task.
type Handler func(context.Context, Task) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is a lightweight in-memory task dispatcher backed by
// goroutines. It is used for post-commit fanout: core decisions commit
// first, downstream notifications happen here, asynchronously.
type Queue struct {
	name    string
	handler Handler

	workers    int
	bufferSize int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With(zap.String("queue", name)),
		tasks:      make(chan Task, cfg.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
}

// Enqueue submits a task without blocking; it fails when the buffer is
// full or the queue is stopped. The send happens under the mutex so a
// concurrent Stop cannot close the channel mid-submit.
func (q *Queue) Enqueue(task Task) error {
	if task.Enqueued.IsZero() {
		task.Enqueued = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return fmt.Errorf("queue %s is stopped", q.name)
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("queue %s buffer is full", q.name)
	}
}

// Stop drains buffered tasks and shuts the workers down. Enqueue calls
// racing with Stop either land before the channel closes or are
// rejected; cancellation fires only after the drain so in-flight
// handlers keep a live context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.process(task)
	}
}

func (q *Queue) process(task Task) {
	for {
		err := q.handler(q.ctx, task)
		if err == nil {
			return
		}
		task.Attempt++
		if task.Attempt > q.maxRetries {
			q.logger.Error("task dropped after retries",
				zap.String("task_id", task.ID),
				zap.String("task_type", task.Type),
				zap.Int("attempts", task.Attempt),
				zap.Error(err))
			return
		}
		q.logger.Warn("task failed, retrying",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
}
