package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/services/workqueue"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Tables []string
	Force  bool
	All    bool
}

// syncResult is the per-source entry of the sync output.
type syncResult struct {
	Status workqueue.TaskStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
	Report *models.SyncReport   `json:"report,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [source...]",
		Short: "Synchronize remote tables into the catalog",
		Long: `Synchronize remote table and column definitions into the catalog.

Each source runs as one task on the work queue; sync.workers bounds how many
run at once. Progress is written to stderr and the reports to stdout.

Tables already in the catalog are skipped unless --force is given. Interrupting
the command cancels the syncs between tables and prints the partial reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Tables, "table", nil, "table to sync (repeatable; default all)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-introspect tables already in the catalog")
	cmd.Flags().BoolVar(&opts.All, "all", false, "sync every configured source")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions, names []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.All {
		for _, src := range a.cfg.Sources {
			names = append(names, src.Name())
		}
	}
	names = uniqueNames(names)
	if len(names) == 0 {
		return apperrors.Configuration("no source to sync; name one or pass --all")
	}

	q := workqueue.New(a.logger, workqueue.WithWorkers(a.cfg.Sync.Workers))
	defer func() {
		if err := q.Shutdown(context.Background()); err != nil {
			a.logger.Warn("Work queue did not shut down cleanly", zap.Error(err))
		}
	}()
	q.SetOnUpdate(progressPrinter(cmd.ErrOrStderr()))

	scope := models.SyncScope{Tables: opts.Tables}
	tasks := make([]*services.SyncTask, 0, len(names))
	for _, name := range names {
		ds, err := a.open(name)
		if err != nil {
			return err
		}
		defer ds.Close()

		task, err := services.EnqueueSync(q, ds, scope, opts.Force)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	go func() {
		<-ctx.Done()
		for _, snap := range q.GetTasks() {
			if err := q.Cancel(snap.ID); err != nil {
				a.logger.Warn("Failed to cancel sync",
					zap.String("task", snap.Name),
					zap.Error(err))
			}
		}
	}()

	// Task errors are collected per task below. Waiting for the whole queue
	// first orders the final progress lines before the output.
	_ = q.Wait(context.Background())

	results := make(map[string]syncResult, len(tasks))
	var errs []error
	for i, task := range tasks {
		if err := q.WaitTask(context.Background(), task.ID()); err != nil {
			errs = append(errs, err)
		}
		snap, _ := q.GetTask(task.ID())
		results[names[i]] = syncResult{
			Status: snap.Status,
			Error:  snap.Error,
			Report: task.Report(),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// progressPrinter writes a line to w whenever a task changes status. The queue
// serializes update callbacks, so the status map needs no lock.
func progressPrinter(w io.Writer) func([]workqueue.TaskSnapshot) {
	last := make(map[string]workqueue.TaskStatus)
	return func(snaps []workqueue.TaskSnapshot) {
		p := workqueue.Summarize(snaps)
		for _, s := range snaps {
			if last[s.ID] == s.Status {
				continue
			}
			last[s.ID] = s.Status

			line := fmt.Sprintf("[%3d%%] %s: %s", p.Percentage(), s.Name, s.Status)
			if s.Error != "" {
				line += " (" + logging.SanitizeError(errors.New(s.Error)) + ")"
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func uniqueNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
