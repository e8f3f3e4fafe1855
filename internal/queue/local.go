// internal/queue/local.go
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
)

const localQueueName = "local"

// LocalQueue is a buffered channel drained by a fixed pool of goroutines.
type LocalQueue struct {
	tasks   chan Task
	handler Handler
	log     logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalQueue starts workers goroutines immediately.
func NewLocalQueue(workers, buffer int, handler Handler, log logger.Logger) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	q := &LocalQueue{
		tasks:   make(chan Task, buffer),
		handler: handler,
		log:     log.WithFields(map[string]interface{}{"component": "local-queue"}),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work(i)
	}
	return q
}

// Enqueue hands the task to the pool, or fails with ErrQueueFull when the buffer is full.
func (q *LocalQueue) Enqueue(_ context.Context, task Task) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		metrics.QueueDepth.WithLabelValues(localQueueName).Set(float64(len(q.tasks)))
		return task.ID, nil
	default:
		return "", fmt.Errorf("%w: %d units waiting", ErrQueueFull, cap(q.tasks))
	}
}

// Close stops intake and waits for queued and in-flight units, or for ctx to end.
func (q *LocalQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
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
		return fmt.Errorf("local queue drain interrupted: %w", ctx.Err())
	}
}

func (q *LocalQueue) work(id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		metrics.QueueDepth.WithLabelValues(localQueueName).Set(float64(len(q.tasks)))
		q.run(id, task)
	}
}

func (q *LocalQueue) run(worker int, task Task) {
	fields := map[string]interface{}{
		"worker":    worker,
		"taskId":    task.ID,
		"kind":      string(task.Kind),
		"subjectId": task.SubjectID,
	}

	defer func() {
		if r := recover(); r != nil {
			fields["panic"] = fmt.Sprint(r)
			q.log.Error("Unit of work panicked", fields)
		}
	}()

	start := time.Now()
	if err := q.handler(context.Background(), task); err != nil {
		fields["error"] = err.Error()
		fields["duration"] = time.Since(start).String()
		q.log.Error("Unit of work failed", fields)
		return
	}
	fields["duration"] = time.Since(start).String()
	q.log.Debug("Unit of work finished", fields)
}
