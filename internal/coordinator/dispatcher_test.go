package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// blockingCompleter holds every request until its context ends or release is closed.
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingCompleter() *blockingCompleter {
	return &blockingCompleter{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.release:
		return "ok", nil
	}
}

func waitStarted(t *testing.T, b *blockingCompleter) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestDispatcherRunsInBackground(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1", "p2")
	d := NewDispatcher(New(st, &fakeCompleter{}, &fakeGrader{}, nil), st)

	require.NoError(t, d.Start(context.Background(), runID))
	d.Wait()

	assert.Equal(t, testrun.StatusCompleted, loadRun(t, st, runID).Status)
	assert.Empty(t, d.Active())
}

func TestDispatcherRejectsSecondStart(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	started := make(chan struct{})
	release := make(chan struct{})

	// the runner leaves the stored status at CREATED, so only the active set can reject
	d := NewDispatcher(runnerFunc(func(context.Context, string) error {
		close(started)
		<-release
		return nil
	}), st)

	require.NoError(t, d.Start(context.Background(), runID))
	<-started
	assert.Equal(t, []string{runID}, d.Active())

	assert.ErrorIs(t, d.Start(context.Background(), runID), ErrAlreadyRunning)

	close(release)
	d.Wait()
	assert.NotContains(t, d.Active(), runID)
}

func TestDispatcherRejectsRunningRun(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	completer := newBlockingCompleter()
	d := NewDispatcher(New(st, completer, &fakeGrader{}, nil), st)

	require.NoError(t, d.Start(context.Background(), runID))
	waitStarted(t, completer)

	assert.ErrorIs(t, d.Start(context.Background(), runID), ErrNotStartable)

	close(completer.release)
	d.Wait()
	assert.Equal(t, testrun.StatusCompleted, loadRun(t, st, runID).Status)
}

func TestDispatcherRejectsFinishedAndUnknownRuns(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	d := NewDispatcher(New(st, &fakeCompleter{}, &fakeGrader{}, nil), st)

	require.NoError(t, d.Start(context.Background(), runID))
	d.Wait()

	assert.ErrorIs(t, d.Start(context.Background(), runID), ErrNotStartable)
	assert.ErrorIs(t, d.Start(context.Background(), "missing"), store.ErrNotFound)
}

func TestDispatcherShutdownCancelsActiveRuns(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1", "p2")
	completer := newBlockingCompleter()
	d := NewDispatcher(New(st, completer, &fakeGrader{}, nil), st)

	require.NoError(t, d.Start(context.Background(), runID))
	waitStarted(t, completer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonCancelled, run.Reason)

	next := createRun(t, st, 1, "p1")
	assert.ErrorIs(t, d.Start(context.Background(), next), ErrShuttingDown)
}

func TestDispatcherShutdownTimesOut(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	stuck := make(chan struct{})
	defer close(stuck)

	runner := runnerFunc(func(context.Context, string) error {
		<-stuck
		return nil
	})
	d := NewDispatcher(runner, st)
	require.NoError(t, d.Start(context.Background(), runID))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}

func TestDispatcherSurvivesPanickingRun(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	d := NewDispatcher(runnerFunc(func(context.Context, string) error {
		panic("boom")
	}), st)

	require.NoError(t, d.Start(context.Background(), runID))
	assert.NotPanics(t, d.Wait)
	assert.Empty(t, d.Active())

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonPanic, run.Reason)
}

func TestDispatcherFailsRunningRunOnPanic(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1", "p2")
	pub := &recordingPublisher{}
	g := &fakeGrader{fn: func(context.Context, string) (bool, error) {
		panic("grader exploded")
	}}
	d := NewDispatcher(New(st, &fakeCompleter{}, g, pub), st)
	d.SetPublisher(pub)

	require.NoError(t, d.Start(context.Background(), runID))
	d.Wait()

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonPanic, run.Reason)

	snaps := pub.all()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, testrun.StatusFailed, last.Status)
	assert.Equal(t, ReasonPanic, last.Reason)
}

type runnerFunc func(ctx context.Context, runID string) error

func (f runnerFunc) Run(ctx context.Context, runID string) error {
	return f(ctx, runID)
}
