// Package rebuild regenerates the shareable repository from an application selection.
//
// A Task runs at most one job at a time. Jobs are identified by a monotonically
// increasing id so that a consumer can drop completions of superseded jobs.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// Builder produces the repository on disk. Every step but CopyIcons is part of
// the job; CopyIcons runs detached after the repository has been published.
type Builder interface {
	DeleteAll(ctx context.Context) error
	AddApp(ctx context.Context, id string) error
	WriteIndex(ctx context.Context, sharingURI string) error
	WritePackagedIndex(ctx context.Context) error
	LinkPackages(ctx context.Context) error
	Publish(ctx context.Context) error
	Discard()
	CopyIcons(ctx context.Context) error
}

// Listener receives progress and completion of jobs in emission order.
// Calls for one job come from a single goroutine.
type Listener interface {
	OnRebuildProgress(jobID uint64, message string)
	OnRebuildDone(result Result)
}

// History persists job outcomes.
type History interface {
	RecordStart(ctx context.Context, jobID uint64, apps []string, at time.Time) error
	RecordFinish(ctx context.Context, jobID uint64, status types.RebuildStatus, errMsg string, at time.Time) error
}

// Metrics observes job outcomes.
type Metrics interface {
	ObserveRebuild(status types.RebuildStatus, took time.Duration)
	ObserveIconCopy(err error)
}

// Result is the terminal report of a job.
type Result struct {
	JobID     uint64
	Status    types.RebuildStatus
	Selection types.Selection
	Err       error
}

type job struct {
	id         uint64
	selection  types.Selection
	sharingURI string
	status     types.RebuildStatus
	cancel     context.CancelFunc
	done       chan struct{}
	// publishing is set under Task.mu once the job has passed its last
	// cancellation point.
	publishing bool
}

// Options configures a Task. Only Builder is required.
type Options struct {
	Builder Builder
	Logger  *log.Logger
	History History
	Metrics Metrics
}

// Task is a cancellable, single-flight rebuild runner.
type Task struct {
	builder Builder
	logger  *log.Logger
	history History
	metrics Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	nextID     uint64
	active     *job
	last       *job
	iconCancel context.CancelFunc
	iconDone   chan struct{}
	iconWG     sync.WaitGroup

	// runMu serializes builder access: a job started after a cancel waits
	// for the cancelled one to leave the builder.
	runMu sync.Mutex
}

func NewTask(opts Options) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		builder:    opts.Builder,
		logger:     tool.LoggerOr(opts.Logger, "[Rebuild]"),
		history:    opts.History,
		metrics:    opts.Metrics,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start launches a job for selection unless one is already running, in which
// case it returns the running job's id and started=false.
func (t *Task) Start(selection types.Selection, sharingURI string, listener Listener) (id uint64, started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		t.logger.Debugf("Rebuild %d already running, coalescing request", t.active.id)
		return t.active.id, false
	}
	if t.baseCtx.Err() != nil {
		return 0, false
	}

	t.nextID++
	ctx, cancel := context.WithCancel(t.baseCtx)
	j := &job{
		id:         t.nextID,
		selection:  selection.Clone(),
		sharingURI: sharingURI,
		status:     types.RebuildRunning,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	t.active = j
	t.last = j

	go t.run(ctx, j, listener)
	return j.id, true
}

// Running reports the id of the running job, if any.
func (t *Task) Running() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return 0, false
	}
	return t.active.id, true
}

// Status returns the status of job id. Unknown ids report Idle.
func (t *Task) Status(id uint64) types.RebuildStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last != nil && t.last.id == id {
		return t.last.status
	}
	return types.RebuildIdle
}

// Cancel stops the running job. Its partial output is discarded and the
// previously published repository is left untouched. A job that is already
// publishing cannot be stopped: it finishes and reports success, and the next
// job waits for it.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return
	}
	if t.active.publishing {
		t.logger.Infof("Rebuild %d is already publishing, letting it finish", t.active.id)
		t.active = nil
		return
	}
	t.logger.Infof("Cancelling rebuild %d", t.active.id)
	t.active.cancel()
	t.active.status = types.RebuildFailed
	t.active = nil
}

// Wait blocks until job id has finished or ctx is done.
func (t *Task) Wait(ctx context.Context, id uint64) error {
	t.mu.Lock()
	var done chan struct{}
	if t.last != nil && t.last.id == id {
		done = t.last.done
	}
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelDetached cancels a detached icon copy, if one is running.
func (t *Task) CancelDetached() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.iconCancel != nil {
		t.iconCancel()
		t.iconCancel = nil
	}
}

// Close cancels the running job and any detached icon copy, then waits for
// the icon copy to return.
func (t *Task) Close() {
	t.Cancel()
	t.baseCancel()
	t.CancelDetached()
	t.iconWG.Wait()
}

func (t *Task) run(ctx context.Context, j *job, listener Listener) {
	defer close(j.done)

	t.runMu.Lock()
	defer t.runMu.Unlock()

	started := time.Now()
	t.recordStart(j, started)

	err := t.safeBuild(ctx, j, listener)
	status := types.RebuildSucceeded
	if err != nil {
		status = types.RebuildFailed
		t.builder.Discard()
		if errors.Is(err, context.Canceled) {
			t.logger.Infof("Rebuild %d cancelled", j.id)
		} else {
			t.logger.Errorf("Rebuild %d failed: %v", j.id, err)
		}
	}

	t.mu.Lock()
	j.status = status
	if t.active == j {
		t.active = nil
	}
	t.mu.Unlock()

	if err == nil {
		listener.OnRebuildProgress(j.id, "Copying icons")
		t.copyIconsDetached(j.id)
	}

	took := time.Since(started)
	t.recordFinish(j, status, err)
	if t.metrics != nil {
		t.metrics.ObserveRebuild(status, took)
	}
	t.logger.Debugf("Rebuild %d finished with %s in %s", j.id, status, took)

	listener.OnRebuildDone(Result{
		JobID:     j.id,
		Status:    status,
		Selection: j.selection,
		Err:       err,
	})
}

// safeBuild turns a panicking builder into a failed job.
func (t *Task) safeBuild(ctx context.Context, j *job, listener Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder panic: %v", r)
		}
	}()
	return t.build(ctx, j, listener)
}

func (t *Task) build(ctx context.Context, j *job, listener Listener) error {
	step := func(message string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		listener.OnRebuildProgress(j.id, message)
		return fn()
	}

	if err := step("Deleting repository", func() error { return t.builder.DeleteAll(ctx) }); err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	for _, id := range j.selection.Sorted() {
		if err := step("Adding "+id, func() error { return t.builder.AddApp(ctx, id) }); err != nil {
			return fmt.Errorf("add app %s: %w", id, err)
		}
	}
	if err := step("Writing index", func() error { return t.builder.WriteIndex(ctx, j.sharingURI) }); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := step("Writing packaged index", func() error { return t.builder.WritePackagedIndex(ctx) }); err != nil {
		return fmt.Errorf("write packaged index: %w", err)
	}
	if err := step("Linking packages", func() error { return t.builder.LinkPackages(ctx) }); err != nil {
		return fmt.Errorf("link packages: %w", err)
	}
	if err := step("Publishing repository", func() error { return t.publish(ctx, j) }); err != nil {
		return fmt.Errorf("publish repository: %w", err)
	}
	return nil
}

// publish checks for cancellation and marks the job publishing in one step
// under t.mu, so a job either never touches the published repository or
// replaces it completely.
func (t *Task) publish(ctx context.Context, j *job) error {
	// the icon copy of the previous job writes into the directory Publish removes
	t.stopIconCopy()

	t.mu.Lock()
	if err := ctx.Err(); err != nil {
		t.mu.Unlock()
		return err
	}
	j.publishing = true
	t.mu.Unlock()

	return t.builder.Publish(context.WithoutCancel(ctx))
}

// stopIconCopy cancels the detached icon copy and waits for it to return.
func (t *Task) stopIconCopy() {
	t.mu.Lock()
	cancel, done := t.iconCancel, t.iconDone
	t.iconCancel, t.iconDone = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// copyIconsDetached starts the icon copy without waiting for it. A newer
// publish cancels the previous copy.
func (t *Task) copyIconsDetached(jobID uint64) {
	t.mu.Lock()
	if t.iconCancel != nil {
		t.iconCancel()
	}
	if t.baseCtx.Err() != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(t.baseCtx)
	done := make(chan struct{})
	t.iconCancel, t.iconDone = cancel, done
	t.iconWG.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.iconWG.Done()
		defer close(done)
		defer cancel()
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("icon copy panic: %v", r)
				}
			}()
			err = t.builder.CopyIcons(ctx)
		}()
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warnf("Icon copy for rebuild %d failed: %v", jobID, err)
		}
		if t.metrics != nil {
			t.metrics.ObserveIconCopy(err)
		}
	}()
}

func (t *Task) recordStart(j *job, at time.Time) {
	if t.history == nil {
		return
	}
	if err := t.history.RecordStart(context.Background(), j.id, j.selection.Sorted(), at); err != nil {
		t.logger.Warnf("Failed to record rebuild %d start: %v", j.id, err)
	}
}

func (t *Task) recordFinish(j *job, status types.RebuildStatus, jobErr error) {
	if t.history == nil {
		return
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if err := t.history.RecordFinish(context.Background(), j.id, status, msg, time.Now()); err != nil {
		t.logger.Warnf("Failed to record rebuild %d finish: %v", j.id, err)
	}
}
