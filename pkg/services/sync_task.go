package services

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services/workqueue"
)

// SyncTask runs DataSource.SyncTables on a workqueue. Tasks for the same data
// source share a key, so the queue never runs two of them at once.
type SyncTask struct {
	workqueue.BaseTask
	source *DataSource
	scope  models.SyncScope
	force  bool

	mu     sync.Mutex
	report *models.SyncReport
}

// NewSyncTask creates a sync task for source.
func NewSyncTask(source *DataSource, scope models.SyncScope, force bool) *SyncTask {
	return &SyncTask{
		BaseTask: workqueue.NewBaseTask("sync "+source.Name(), "sync:"+source.Name()),
		source:   source,
		scope:    scope,
		force:    force,
	}
}

// Execute runs one synchronization pass. A cancelled pass still records its
// partial report.
func (t *SyncTask) Execute(ctx context.Context) error {
	report, err := t.source.SyncTables(ctx, t.scope, t.force)
	if report != nil {
		t.mu.Lock()
		t.report = report
		t.mu.Unlock()
	}
	return err
}

// Report returns the report of the latest pass, or nil if none finished.
func (t *SyncTask) Report() *models.SyncReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// EnqueueSync schedules a background sync of source and returns its task.
func EnqueueSync(q *workqueue.Queue, source *DataSource, scope models.SyncScope, force bool) (*SyncTask, error) {
	task := NewSyncTask(source, scope, force)
	if err := q.Enqueue(task); err != nil {
		return nil, err
	}
	return task, nil
}
