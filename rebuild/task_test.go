package rebuild

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

type fakeBuilder struct {
	mu        sync.Mutex
	calls     []string
	failOn    string
	panicOn   string
	block     chan struct{}
	iconErr   error
	iconsDone chan struct{}
	discarded int
	// publishGate holds Publish until closed; publishing is signalled on entry.
	publishGate chan struct{}
	publishing  chan struct{}
	// iconsBlock makes CopyIcons run until it is cancelled.
	iconsBlock bool
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{iconsDone: make(chan struct{}, 4)}
}

func (f *fakeBuilder) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	failOn, panicOn := f.failOn, f.panicOn
	f.mu.Unlock()
	if call == panicOn {
		panic("boom")
	}
	if call == failOn {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakeBuilder) DeleteAll(ctx context.Context) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.record("delete")
}
func (f *fakeBuilder) AddApp(_ context.Context, id string) error { return f.record("add:" + id) }
func (f *fakeBuilder) WriteIndex(_ context.Context, uri string) error {
	return f.record("index:" + uri)
}
func (f *fakeBuilder) WritePackagedIndex(context.Context) error { return f.record("packaged") }
func (f *fakeBuilder) LinkPackages(context.Context) error       { return f.record("link") }
func (f *fakeBuilder) Publish(ctx context.Context) error {
	if f.publishGate != nil {
		f.publishing <- struct{}{}
		<-f.publishGate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.record("publish")
}
func (f *fakeBuilder) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded++
}
func (f *fakeBuilder) CopyIcons(ctx context.Context) error {
	defer func() { f.iconsDone <- struct{}{} }()
	if f.iconsBlock {
		<-ctx.Done()
		_ = f.record("icons-cancelled")
		return ctx.Err()
	}
	return f.iconErr
}

func (f *fakeBuilder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingListener struct {
	mu       sync.Mutex
	progress []string
	done     chan Result
}

func newRecordingListener() *recordingListener {
	return &recordingListener{done: make(chan Result, 8)}
}

func (l *recordingListener) OnRebuildProgress(_ uint64, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, message)
}

func (l *recordingListener) OnRebuildDone(result Result) { l.done <- result }

func (l *recordingListener) await(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-l.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not finish")
		return Result{}
	}
}

func TestTaskRunsStepsInOrder(t *testing.T) {
	b := newFakeBuilder()
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	id, started := task.Start(types.NewSelection("org.app.b", "org.app.a"), "http://10.0.0.2:8888/fdroid/repo", l)
	require.True(t, started)
	assert.Equal(t, uint64(1), id)

	res := l.await(t)
	assert.Equal(t, types.RebuildSucceeded, res.Status)
	assert.NoError(t, res.Err)
	assert.True(t, res.Selection.Equal(types.NewSelection("org.app.a", "org.app.b")))
	assert.Equal(t, []string{
		"delete",
		"add:org.app.a",
		"add:org.app.b",
		"index:http://10.0.0.2:8888/fdroid/repo",
		"packaged",
		"link",
		"publish",
	}, b.snapshot())

	l.mu.Lock()
	assert.Equal(t, "Deleting repository", l.progress[0])
	assert.Equal(t, "Copying icons", l.progress[len(l.progress)-1])
	l.mu.Unlock()

	select {
	case <-b.iconsDone:
	case <-time.After(2 * time.Second):
		t.Fatal("icon copy never ran")
	}
	assert.Equal(t, types.RebuildSucceeded, task.Status(id))
}

func TestTaskFailureDiscardsStaging(t *testing.T) {
	b := newFakeBuilder()
	b.failOn = "packaged"
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	task.Start(types.NewSelection("org.app.a"), "uri", l)
	res := l.await(t)

	assert.Equal(t, types.RebuildFailed, res.Status)
	assert.ErrorContains(t, res.Err, "disk full")
	assert.NotContains(t, b.snapshot(), "publish")
	assert.Equal(t, 1, b.discarded)
	_, running := task.Running()
	assert.False(t, running)
}

func TestTaskRecoversBuilderPanic(t *testing.T) {
	b := newFakeBuilder()
	b.panicOn = "link"
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	task.Start(types.NewSelection("org.app.a"), "uri", l)
	res := l.await(t)
	assert.Equal(t, types.RebuildFailed, res.Status)
	assert.ErrorContains(t, res.Err, "panic")
}

func TestTaskCoalescesWhileRunning(t *testing.T) {
	b := newFakeBuilder()
	b.block = make(chan struct{})
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	first, started := task.Start(types.NewSelection("org.app.a"), "uri", l)
	require.True(t, started)
	second, started := task.Start(types.NewSelection("org.app.c"), "uri", l)
	assert.False(t, started)
	assert.Equal(t, first, second)

	running, ok := task.Running()
	require.True(t, ok)
	assert.Equal(t, first, running)

	close(b.block)
	res := l.await(t)
	assert.Equal(t, first, res.JobID)
	assert.True(t, res.Selection.Equal(types.NewSelection("org.app.a")))
}

func TestTaskCancelThenRestart(t *testing.T) {
	b := newFakeBuilder()
	b.block = make(chan struct{})
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	first, _ := task.Start(types.NewSelection("org.app.a"), "uri", l)
	task.Cancel()

	res := l.await(t)
	assert.Equal(t, first, res.JobID)
	assert.Equal(t, types.RebuildFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, b.discarded)

	close(b.block)
	second, started := task.Start(types.NewSelection("org.app.a"), "uri", l)
	require.True(t, started)
	assert.Greater(t, second, first)
	assert.Equal(t, types.RebuildSucceeded, l.await(t).Status)
}

func TestTaskIconFailureDoesNotFailJob(t *testing.T) {
	b := newFakeBuilder()
	b.iconErr = errors.New("icon missing")
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	task.Start(types.NewSelection("org.app.a"), "uri", l)
	assert.Equal(t, types.RebuildSucceeded, l.await(t).Status)
	<-b.iconsDone
}

func TestTaskWait(t *testing.T) {
	b := newFakeBuilder()
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	id, _ := task.Start(types.NewSelection("org.app.a"), "uri", l)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx, id))
	assert.NoError(t, task.Wait(ctx, 42))
}

func TestTaskCancelDuringPublishCompletes(t *testing.T) {
	b := newFakeBuilder()
	b.publishGate = make(chan struct{})
	b.publishing = make(chan struct{}, 1)
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	id, started := task.Start(types.NewSelection("org.app.a", "org.app.c"), "uri", l)
	require.True(t, started)
	select {
	case <-b.publishing:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never started")
	}

	task.Cancel()
	_, running := task.Running()
	assert.False(t, running, "a new job may queue behind the publishing one")

	close(b.publishGate)
	res := l.await(t)
	assert.Equal(t, id, res.JobID)
	assert.Equal(t, types.RebuildSucceeded, res.Status, "a published repository is reported")
	assert.NoError(t, res.Err)
	assert.True(t, res.Selection.Equal(types.NewSelection("org.app.a", "org.app.c")))
	assert.Contains(t, b.snapshot(), "publish")
	assert.Zero(t, b.discarded)
	assert.Equal(t, types.RebuildSucceeded, task.Status(id))
}

func TestTaskCancelBeforePublishNeverPublishes(t *testing.T) {
	b := newFakeBuilder()
	b.block = make(chan struct{})
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	task.Start(types.NewSelection("org.app.a"), "uri", l)
	task.Cancel()
	close(b.block)

	res := l.await(t)
	assert.Equal(t, types.RebuildFailed, res.Status)
	assert.NotContains(t, b.snapshot(), "publish")
}

func TestTaskPublishStopsPreviousIconCopy(t *testing.T) {
	b := newFakeBuilder()
	b.iconsBlock = true
	task := NewTask(Options{Builder: b})
	defer task.Close()
	l := newRecordingListener()

	task.Start(types.NewSelection("org.app.a"), "uri", l)
	require.Equal(t, types.RebuildSucceeded, l.await(t).Status)
	task.Start(types.NewSelection("org.app.b"), "uri", l)
	require.Equal(t, types.RebuildSucceeded, l.await(t).Status)

	calls := b.snapshot()
	cancelled, lastPublish := -1, -1
	for i, call := range calls {
		switch call {
		case "icons-cancelled":
			if cancelled < 0 {
				cancelled = i
			}
		case "publish":
			lastPublish = i
		}
	}
	require.GreaterOrEqual(t, cancelled, 0, "first icon copy was never stopped: %v", calls)
	assert.Less(t, cancelled, lastPublish, "icon copy must end before the next publish: %v", calls)
}
