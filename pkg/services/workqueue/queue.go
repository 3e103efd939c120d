// Package workqueue runs background tasks with per-key serialization,
// retry on transient errors and per-task cancellation.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the defaults for retrying transient task errors.
// Backoff schedule: 1s, 2s, then 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Queue manages task execution with configurable concurrency control.
// The default strategy runs one task per key with no global limit.
type Queue struct {
	mu       sync.Mutex
	tasks    []*TaskState
	byID     map[string]*TaskState
	shutdown bool

	strategy    ConcurrencyStrategy
	retryConfig RetryConfig

	// done is closed when all tasks complete
	done chan struct{}
	wg   sync.WaitGroup

	// Parent context for every task; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	onUpdate func([]TaskSnapshot)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithWorkers limits the number of tasks running at once.
func WithWorkers(n int) QueueOption {
	return WithStrategy(NewKeyedStrategy(n))
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:       make([]*TaskState, 0),
		byID:        make(map[string]*TaskState),
		strategy:    NewKeyedStrategy(0),
		retryConfig: DefaultRetryConfig(),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate sets the callback invoked when task state changes.
// The callback receives a snapshot of all tasks.
//
// WARNING: The callback is invoked while holding the queue's internal lock.
// Do NOT call any Queue methods from within the callback or it will deadlock.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
// It fails once the queue has been shut down.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		q.logger.Warn("queue shut down, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return fmt.Errorf("enqueue %s: queue is shut down", task.Name())
	}

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)
	q.byID[task.ID()] = state

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("key", task.Key()))

	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts every pending task the strategy admits.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.shutdown {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		key := ts.Task.Key()
		if !q.strategy.CanStart(key) {
			continue
		}

		q.strategy.OnStart(key)
		ctx, cancel := context.WithCancel(q.ctx)
		ts.setCancel(cancel)
		ts.SetStatus(TaskStatusRunning)
		q.notifyUpdateLocked()

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ctx, ts)
	}
}

// runTask executes a task with retry logic for transient errors.
func (q *Queue) runTask(ctx context.Context, ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				q.completeTask(ts, ctx.Err())
				return
			case <-time.After(backoff):
			}
		}

		err := ts.Task.Execute(ctx)
		if err == nil {
			q.completeTask(ts, nil)
			return
		}

		lastErr = err

		if errors.Is(err, context.Canceled) || !isRetryable(err) {
			break
		}

		retryCount := ts.IncrementRetryCount()
		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("task failed after max retries",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("retry_count", retryCount),
				zap.Error(err))
			break
		}

		q.logger.Warn("retryable error encountered",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	q.completeTask(ts, lastErr)
}

// isRetryable admits transient errors. Configuration, auth and query errors
// fail immediately since retrying cannot change their outcome.
func isRetryable(err error) bool {
	switch {
	case apperrors.IsKind(err, apperrors.KindConfiguration),
		apperrors.IsKind(err, apperrors.KindSchema),
		apperrors.IsKind(err, apperrors.KindInvalidQuery),
		apperrors.IsSubkind(err, apperrors.SubkindAuthRejected),
		apperrors.IsSubkind(err, apperrors.SubkindTLS),
		apperrors.IsSubkind(err, apperrors.SubkindSyntax):
		return false
	}
	return retry.IsRetryable(err)
}

// calculateBackoff computes the backoff duration for a retry attempt.
// Uses exponential backoff with jitter.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := float64(q.retryConfig.InitialBackoff) *
		math.Pow(q.retryConfig.BackoffFactor, float64(attempt-1))

	if backoff > float64(q.retryConfig.MaxBackoff) {
		backoff = float64(q.retryConfig.MaxBackoff)
	}

	// ±10% jitter
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

// completeTask records the outcome of a run. A cancelled context marks the
// task cancelled even if Execute also returned partial results.
func (q *Queue) completeTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.Key())
	ts.cancelRun()

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled):
		ts.SetError(err)
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// allTasksDoneLocked returns true if all tasks are in a terminal state.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		if !ts.GetStatus().IsTerminal() {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed, so the queue
// can be reused for another batch. Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// notifyUpdateLocked calls the update callback with a snapshot of all tasks.
// Must be called with lock held.
func (q *Queue) notifyUpdateLocked() {
	if q.onUpdate == nil {
		return
	}
	q.onUpdate(q.snapshotsLocked())
}

func (q *Queue) snapshotsLocked() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// GetTasks returns a snapshot of all tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotsLocked()
}

// GetTask returns a snapshot of one task.
func (q *Queue) GetTask(id string) (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.byID[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return ts.Snapshot(), true
}

// WaitTask blocks until the task reaches a terminal state or ctx is done.
// It returns the task's error, which is nil for a completed task.
func (q *Queue) WaitTask(ctx context.Context, id string) error {
	q.mu.Lock()
	ts, ok := q.byID[id]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", id, apperrors.ErrNotFound)
	}

	select {
	case <-ts.done:
		return ts.GetError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns the first task error if any task failed.
// The queue keeps running if ctx ends first.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels one task. A pending task is marked cancelled without
// running; a running task sees its context cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, apperrors.ErrNotFound)
	}

	switch ts.GetStatus() {
	case TaskStatusPending:
		ts.SetError(context.Canceled)
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("pending task cancelled", zap.String("task_id", id))
		q.notifyUpdateLocked()
		if q.allTasksDoneLocked() {
			q.closeDoneLocked()
		}
	case TaskStatusRunning:
		q.logger.Info("signaling running task to stop", zap.String("task_id", id))
		ts.cancelRun()
	}
	return nil
}

// Shutdown stops accepting tasks, cancels pending ones and signals running
// ones to stop. It waits for running tasks up to ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.shutdown {
		q.shutdown = true
		q.logger.Info("queue shutting down, signaling running tasks to stop")
		q.cancel()

		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusPending {
				ts.SetError(context.Canceled)
				ts.SetStatus(TaskStatusCancelled)
			}
		}
		q.notifyUpdateLocked()
		if q.allTasksDoneLocked() {
			q.closeDoneLocked()
		}
	}
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summarize counts snapshots by status. Update callbacks use it since they
// cannot call back into the queue.
func Summarize(snapshots []TaskSnapshot) Progress {
	p := Progress{Total: len(snapshots)}
	for _, s := range snapshots {
		switch s.Status {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
