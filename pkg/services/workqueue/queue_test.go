package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context) error
}

func newTestTask(name, key string, fn func(ctx context.Context) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask(name, key),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx)
	}
	return nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	executed := false
	task := newTestTask("test-task", "a", func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err := q.Enqueue(task); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !executed {
		t.Error("task was not executed")
	}

	if p := Summarize(q.GetTasks()); p.Completed != 1 || p.Percentage() != 100 {
		t.Errorf("expected 1 completed at 100%%, got %+v", p)
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(fastRetry()))

	expectedErr := apperrors.Schema("table %q has no columns", "orders")
	task := newTestTask("failing-task", "a", func(ctx context.Context) error {
		return expectedErr
	})

	_ = q.Enqueue(task)

	err := q.Wait(waitCtx(t))
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected %v, got %v", expectedErr, err)
	}

	snap, ok := q.GetTask(task.ID())
	if !ok {
		t.Fatal("task not found")
	}
	if snap.Status != TaskStatusFailed {
		t.Errorf("expected failed status, got %s", snap.Status)
	}
	if snap.RetryCount != 0 {
		t.Errorf("schema errors must not be retried, got %d retries", snap.RetryCount)
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(fastRetry()))

	var attempts atomic.Int32
	task := newTestTask("flaky", "a", func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("read: connection reset by peer")
		}
		return nil
	})

	_ = q.Enqueue(task)

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}

	snap, _ := q.GetTask(task.ID())
	if snap.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", snap.RetryCount)
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(fastRetry()))

	var attempts atomic.Int32
	task := newTestTask("always-flaky", "a", func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("i/o timeout")
	})

	_ = q.Enqueue(task)

	if err := q.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected error")
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", attempts.Load())
	}
}

func TestQueue_SameKeySerialized(t *testing.T) {
	q := New(zap.NewNop())

	var running, maxRunning atomic.Int32
	work := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	for i := 0; i < 3; i++ {
		_ = q.Enqueue(newTestTask("sync", "source-a", work))
	}

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxRunning.Load() != 1 {
		t.Errorf("expected tasks sharing a key to run one at a time, max concurrent was %d", maxRunning.Load())
	}
}

func TestQueue_DifferentKeysRunInParallel(t *testing.T) {
	q := New(zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	release := make(chan struct{})

	work := func(ctx context.Context) error {
		wg.Done()
		<-release
		return nil
	}

	_ = q.Enqueue(newTestTask("sync", "source-a", work))
	_ = q.Enqueue(newTestTask("sync", "source-b", work))

	started := make(chan struct{})
	go func() {
		wg.Wait()
		close(started)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks with different keys did not start concurrently")
	}
	close(release)

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_WorkerLimit(t *testing.T) {
	q := New(zap.NewNop(), WithWorkers(1))

	var running, maxRunning atomic.Int32
	work := func(ctx context.Context) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	_ = q.Enqueue(newTestTask("sync", "a", work))
	_ = q.Enqueue(newTestTask("sync", "b", work))

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxRunning.Load() != 1 {
		t.Errorf("expected at most 1 running task, saw %d", maxRunning.Load())
	}
}

func TestQueue_CancelRunningTask(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	task := newTestTask("long", "a", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	_ = q.Enqueue(task)

	<-started
	if err := q.Cancel(task.ID()); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}

	err := q.WaitTask(waitCtx(t), task.ID())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	snap, _ := q.GetTask(task.ID())
	if snap.Status != TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", snap.Status)
	}

	// Cancelled tasks are not failures.
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Errorf("unexpected wait error: %v", err)
	}
}

func TestQueue_CancelPendingTask(t *testing.T) {
	q := New(zap.NewNop())

	release := make(chan struct{})
	blocker := newTestTask("first", "a", func(ctx context.Context) error {
		<-release
		return nil
	})

	var ranSecond atomic.Bool
	second := newTestTask("second", "a", func(ctx context.Context) error {
		ranSecond.Store(true)
		return nil
	})

	_ = q.Enqueue(blocker)
	_ = q.Enqueue(second)

	if err := q.Cancel(second.ID()); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	close(release)

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranSecond.Load() {
		t.Error("cancelled pending task should not run")
	}
}

func TestQueue_CancelUnknownTask(t *testing.T) {
	q := New(zap.NewNop())

	if err := q.Cancel("nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := q.WaitTask(context.Background(), "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueue_Shutdown(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	task := newTestTask("long", "a", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	_ = q.Enqueue(task)
	<-started

	if err := q.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	snap, _ := q.GetTask(task.ID())
	if snap.Status != TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", snap.Status)
	}

	if err := q.Enqueue(newTestTask("late", "b", nil)); err == nil {
		t.Error("expected enqueue after shutdown to fail")
	}
}

func TestQueue_OnUpdate(t *testing.T) {
	q := New(zap.NewNop())

	var mu sync.Mutex
	var statuses []TaskStatus
	q.SetOnUpdate(func(snaps []TaskSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, snaps[len(snaps)-1].Status)
	})

	_ = q.Enqueue(newTestTask("t", "a", nil))
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 3 {
		t.Fatalf("expected pending, running and completed updates, got %v", statuses)
	}
	if statuses[len(statuses)-1] != TaskStatusCompleted {
		t.Errorf("expected final update to be completed, got %s", statuses[len(statuses)-1])
	}
}

func TestQueue_EmptyWait(t *testing.T) {
	q := New(zap.NewNop())
	if err := q.Wait(context.Background()); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
}
