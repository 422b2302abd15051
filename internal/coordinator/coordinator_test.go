package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/llm-verdict/internal/grader"
	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/provider"
	"github.com/giantswarm/llm-verdict/internal/status"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
	"github.com/giantswarm/llm-verdict/internal/testutil"
)

// events records completer and grader calls in the order they happen.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeCompleter struct {
	events *events
	counts map[string]int
	mu     sync.Mutex
	// fn decides the reply for the n-th call (1-based) to providerID.
	fn func(ctx context.Context, providerID string, n int) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, providerID, _ string) (string, error) {
	f.mu.Lock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[providerID]++
	n := f.counts[providerID]
	f.mu.Unlock()

	if f.events != nil {
		f.events.add(fmt.Sprintf("%sR%d", providerID, n))
	}
	if f.fn != nil {
		return f.fn(ctx, providerID, n)
	}
	return "ok", nil
}

func (f *fakeCompleter) calls(providerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[providerID]
}

type fakeGrader struct {
	events *events
	fn     func(ctx context.Context, response string) (bool, error)
}

func (f *fakeGrader) Grade(ctx context.Context, response, _ string) (bool, error) {
	if f.events != nil {
		f.events.add("grade")
	}
	if f.fn != nil {
		return f.fn(ctx, response)
	}
	return true, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []testrun.Snapshot
}

func (r *recordingPublisher) Publish(_ context.Context, snap testrun.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingPublisher) all() []testrun.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]testrun.Snapshot(nil), r.snaps...)
}

func createRun(t *testing.T, st store.Store, n int, providers ...string) string {
	t.Helper()
	run, err := st.CreateRun(context.Background(), testrun.Definition{
		Title:         "capital",
		UserMessage:   "What is the capital of Australia?",
		ReviewMessage: "Must mention Canberra",
		NumRequests:   n,
		Providers:     providers,
	}, "alice")
	require.NoError(t, err)
	return run.ID
}

func loadRun(t *testing.T, st store.Store, runID string) *testrun.Run {
	t.Helper()
	run, err := st.LoadRun(context.Background(), runID)
	require.NoError(t, err)
	return run
}

func TestRunConcreteScenario(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "modelA", "modelB")

	c := New(st, &fakeCompleter{}, &fakeGrader{}, nil)
	require.NoError(t, c.Run(context.Background(), runID))

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusCompleted, run.Status)
	want := testrun.Results{
		"modelA": {{Response: "ok", Verdict: true}, {Response: "ok", Verdict: true}},
		"modelB": {{Response: "ok", Verdict: true}, {Response: "ok", Verdict: true}},
	}
	assert.Equal(t, want, run.Results)
}

func TestRunResultShape(t *testing.T) {
	tests := []struct {
		name      string
		providers []string
		requests  int
	}{
		{name: "one provider one request", providers: []string{"a"}, requests: 1},
		{name: "two providers three requests", providers: []string{"a", "b"}, requests: 3},
		{name: "four providers two requests", providers: []string{"a", "b", "c", "d"}, requests: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			runID := createRun(t, st, tt.requests, tt.providers...)

			require.NoError(t, New(st, &fakeCompleter{}, &fakeGrader{}, nil).Run(context.Background(), runID))

			run := loadRun(t, st, runID)
			assert.Equal(t, testrun.StatusCompleted, run.Status)
			assert.Len(t, run.Results, len(tt.providers))
			for _, p := range tt.providers {
				assert.Len(t, run.Results[p], tt.requests, p)
			}
		})
	}
}

func TestRunIsStrictlySequential(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 3, "P1", "P2")
	ev := &events{}

	c := New(st, &fakeCompleter{events: ev}, &fakeGrader{events: ev}, nil)
	require.NoError(t, c.Run(context.Background(), runID))

	assert.Equal(t, []string{
		"P1R1", "grade", "P1R2", "grade", "P1R3", "grade",
		"P2R1", "grade", "P2R2", "grade", "P2R3", "grade",
	}, ev.all())
}

func TestRunKeepsCompletedBatchesOnFailure(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 3, "p1", "p2", "p3")
	pub := &recordingPublisher{}

	completer := &fakeCompleter{fn: func(_ context.Context, providerID string, n int) (string, error) {
		if providerID == "p2" && n == 2 {
			return "", &provider.Error{Kind: provider.KindFatal, Provider: providerID, Message: "bad request"}
		}
		return "ok", nil
	}}

	err := New(st, completer, &fakeGrader{}, pub).Run(context.Background(), runID)
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.KindFatal))

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "bad request")
	assert.Len(t, run.Results["p1"], 3)
	assert.NotContains(t, run.Results, "p2")
	assert.NotContains(t, run.Results, "p3")
	assert.Zero(t, completer.calls("p3"))

	snaps := pub.all()
	last := snaps[len(snaps)-1]
	assert.Equal(t, testrun.StatusFailed, last.Status)
	assert.Len(t, last.Results["p1"], 3)
}

func TestRunCancelledBetweenProviders(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1", "p2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &fakeCompleter{}
	grades := 0
	g := &fakeGrader{fn: func(context.Context, string) (bool, error) {
		grades++
		if grades == 2 {
			cancel()
		}
		return true, nil
	}}

	err := New(st, completer, g, nil).Run(ctx, runID)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonCancelled, run.Reason)
	assert.Len(t, run.Results["p1"], 2)
	assert.Zero(t, completer.calls("p2"))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completer := &fakeCompleter{}
	err := New(st, completer, &fakeGrader{}, nil).Run(ctx, runID)
	assert.ErrorIs(t, err, ErrCancelled)

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Zero(t, completer.calls("p1"))
}

func TestRunCancelledDuringRequest(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &fakeCompleter{fn: func(ctx context.Context, _ string, n int) (string, error) {
		if n == 2 {
			cancel()
			return "", ctx.Err()
		}
		return "ok", nil
	}}

	err := New(st, completer, &fakeGrader{}, nil).Run(ctx, runID)
	assert.ErrorIs(t, err, ErrCancelled)

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonCancelled, run.Reason)
	assert.Empty(t, run.Results, "a partial batch is never persisted")
}

func TestRunGradingFailureRecordsFalse(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 3, "p1")

	g := &fakeGrader{fn: func(_ context.Context, _ string) (bool, error) {
		return false, &provider.Error{Kind: provider.KindTransient, Provider: "grader", Message: "timeout"}
	}}

	require.NoError(t, New(st, &fakeCompleter{}, g, nil).Run(context.Background(), runID))

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusCompleted, run.Status)
	require.Len(t, run.Results["p1"], 3)
	for _, r := range run.Results["p1"] {
		assert.False(t, r.Verdict)
		assert.Equal(t, "ok", r.Response)
	}
}

func TestRunDuplicateProvidersCollapse(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1", "p1")
	completer := &fakeCompleter{fn: func(_ context.Context, _ string, n int) (string, error) {
		return fmt.Sprintf("answer %d", n), nil
	}}

	require.NoError(t, New(st, completer, &fakeGrader{}, nil).Run(context.Background(), runID))

	run := loadRun(t, st, runID)
	require.Len(t, run.Results, 1)
	require.Len(t, run.Results["p1"], 4)
	for i, r := range run.Results["p1"] {
		assert.Equal(t, fmt.Sprintf("answer %d", i+1), r.Response)
	}
}

func TestRunPublishesAfterEveryBatch(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1", "p2")
	pub := &recordingPublisher{}

	require.NoError(t, New(st, &fakeCompleter{}, &fakeGrader{}, pub).Run(context.Background(), runID))

	snaps := pub.all()
	require.Len(t, snaps, 4)
	assert.Equal(t, testrun.StatusRunning, snaps[0].Status)
	assert.Empty(t, snaps[0].Results)
	assert.Equal(t, []string{"p1"}, keys(snaps[1].Results))
	assert.Equal(t, []string{"p1", "p2"}, keys(snaps[2].Results))
	assert.Equal(t, testrun.StatusCompleted, snaps[3].Status)
	for _, s := range snaps {
		assert.Equal(t, runID, s.RunID)
	}
}

func TestRunReportsProgress(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "p1", "p2")

	var got []string
	c := New(st, &fakeCompleter{}, &fakeGrader{}, nil)
	c.SetProgressFunc(func(providerID string, request, total int) {
		got = append(got, fmt.Sprintf("%s %d/%d", providerID, request, total))
	})
	require.NoError(t, c.Run(context.Background(), runID))

	assert.Equal(t, []string{"p1 1/2", "p1 2/2", "p2 1/2", "p2 2/2"}, got)
}

func TestRunRejectsNonCreatedRun(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1")
	c := New(st, &fakeCompleter{}, &fakeGrader{}, nil)
	require.NoError(t, c.Run(context.Background(), runID))

	err := c.Run(context.Background(), runID)
	assert.ErrorIs(t, err, ErrNotStartable)
	assert.Equal(t, testrun.StatusCompleted, loadRun(t, st, runID).Status)
}

func TestRunUnknownRun(t *testing.T) {
	err := New(store.NewMemory(), &fakeCompleter{}, &fakeGrader{}, nil).Run(context.Background(), "missing")
	var perr *store.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// flakyStore fails appends while delegating everything else.
type flakyStore struct {
	store.Store
	appendErr error
}

func (f *flakyStore) AppendProviderResult(context.Context, string, string, []testrun.Result) error {
	return f.appendErr
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	mem := store.NewMemory()
	runID := createRun(t, mem, 2, "p1", "p2")
	st := &flakyStore{Store: mem, appendErr: errors.New("disk full")}
	completer := &fakeCompleter{}

	err := New(st, completer, &fakeGrader{}, nil).Run(context.Background(), runID)
	var perr *store.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "append results", perr.Op)

	run := loadRun(t, mem, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "disk full")
	assert.Zero(t, completer.calls("p2"))
}

// ctxStore rejects writes on a done context, like a real database driver.
type ctxStore struct {
	store.Store
}

func (s *ctxStore) AppendProviderResult(ctx context.Context, runID, providerID string, batch []testrun.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendProviderResult(ctx, runID, providerID, batch)
}

func (s *ctxStore) SaveStatus(ctx context.Context, runID string, st testrun.Status, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.SaveStatus(ctx, runID, st, reason)
}

func TestRunPersistsBatchFinishedAtCancellation(t *testing.T) {
	mem := store.NewMemory()
	runID := createRun(t, mem, 2, "p1", "p2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &fakeCompleter{}
	grades := 0
	g := &fakeGrader{fn: func(context.Context, string) (bool, error) {
		grades++
		if grades == 2 {
			cancel()
		}
		return true, nil
	}}

	err := New(&ctxStore{Store: mem}, completer, g, nil).Run(ctx, runID)
	assert.ErrorIs(t, err, ErrCancelled)

	run := loadRun(t, mem, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Equal(t, ReasonCancelled, run.Reason)
	assert.Len(t, run.Results["p1"], 2)
	assert.NotContains(t, run.Results, "p2")
	assert.Zero(t, completer.calls("p2"))
}

func TestRunCompletesWhenCancelledDuringLastGrade(t *testing.T) {
	mem := store.NewMemory()
	runID := createRun(t, mem, 1, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := &fakeGrader{fn: func(context.Context, string) (bool, error) {
		cancel()
		return true, nil
	}}

	require.NoError(t, New(&ctxStore{Store: mem}, &fakeCompleter{}, g, nil).Run(ctx, runID))

	run := loadRun(t, mem, runID)
	assert.Equal(t, testrun.StatusCompleted, run.Status)
	assert.Len(t, run.Results["p1"], 1)
}

type backendFunc func(ctx context.Context, req llm.Request) (string, error)

func (f backendFunc) Send(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

func TestRunWithProviderClientAndGrader(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 2, "modelA", "modelB")
	pub, err := status.NewPublisher(8, status.WithLoaders(st))
	require.NoError(t, err)

	answers := backendFunc(func(_ context.Context, req llm.Request) (string, error) {
		if req.Model == "modelA" {
			return "The capital is Canberra.", nil
		}
		return "Sydney, obviously.", nil
	})
	judge := backendFunc(func(_ context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Canberra.") {
			return "TRUE", nil
		}
		return "FALSE", nil
	})

	client := provider.NewClient(provider.Config{
		Resolver: &provider.StaticResolver{Default: answers},
		Sleep:    (&testutil.RecordingSleeper{}).Sleep,
	})
	c := New(st, client, grader.NewGrader(judge, grader.Config{}), pub)
	require.NoError(t, c.Run(context.Background(), runID))

	snap, err := pub.Read(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCompleted, snap.Status)
	for _, r := range snap.Results["modelA"] {
		assert.True(t, r.Verdict)
	}
	for _, r := range snap.Results["modelB"] {
		assert.False(t, r.Verdict)
	}
}

func TestRunRateLimitedProviderFailsRun(t *testing.T) {
	st := store.NewMemory()
	runID := createRun(t, st, 1, "p1", "p2")
	sleeper := &testutil.RecordingSleeper{}

	backend := &testutil.MockBackend{Script: []testutil.Reply{
		{Err: &llm.StatusError{Code: 429, Message: "slow down"}},
		{Err: &llm.StatusError{Code: 429, Message: "slow down"}},
		{Err: &llm.StatusError{Code: 429, Message: "slow down"}},
	}}
	client := provider.NewClient(provider.Config{
		Resolver: &provider.StaticResolver{Default: backend},
		Sleep:    sleeper.Sleep,
	})

	err := New(st, client, &fakeGrader{}, nil).Run(context.Background(), runID)
	require.Error(t, err)

	run := loadRun(t, st, runID)
	assert.Equal(t, testrun.StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "max retries reached")
	assert.Equal(t, 3, backend.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Waits())
	assert.Empty(t, run.Results)
}

func keys(r testrun.Results) []string {
	var out []string
	for _, k := range []string{"p1", "p2", "p3"} {
		if _, ok := r[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
