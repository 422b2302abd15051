// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// Factory returns a fresh, empty store. It should register cleanup with t.
type Factory func(t *testing.T) store.Store

// Definition returns a valid definition for tests.
func Definition(providers ...string) testrun.Definition {
	if len(providers) == 0 {
		providers = []string{"model-a", "model-b"}
	}
	return testrun.Definition{
		Title:         "capital",
		Description:   "capital of australia",
		UserMessage:   "What is the capital of Australia?",
		ReviewMessage: "Must be Canberra",
		NumRequests:   2,
		Providers:     providers,
	}
}

// Run executes the shared behaviour tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("TerminalIsImmutable", func(t *testing.T) { testTerminalIsImmutable(t, newStore(t)) })
	t.Run("AppendRequiresRunning", func(t *testing.T) { testAppendRequiresRunning(t, newStore(t)) })
	t.Run("DuplicateProvidersAccumulate", func(t *testing.T) { testDuplicateProvidersAccumulate(t, newStore(t)) })
	t.Run("ListRunsByOwner", func(t *testing.T) { testListRunsByOwner(t, newStore(t)) })
	t.Run("ConcurrentReaders", func(t *testing.T) { testConcurrentReaders(t, newStore(t)) })
}

func testCreateAndLoad(t *testing.T, s store.Store) {
	ctx := context.Background()
	def := Definition()

	run, err := s.CreateRun(ctx, def, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, testrun.StatusCreated, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	loaded, err := s.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, "alice", loaded.Owner)
	assert.Equal(t, def, loaded.Definition)
	assert.Empty(t, loaded.Results)

	gotDef, err := s.LoadDefinition(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, def, gotDef)

	_, err = s.CreateRun(ctx, testrun.Definition{}, "alice")
	assert.Error(t, err)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.LoadSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SaveStatus(ctx, "missing", testrun.StatusRunning, ""), store.ErrNotFound)
	assert.ErrorIs(t, s.AppendProviderResult(ctx, "missing", "p", nil), store.ErrNotFound)
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)

	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusRunning, ""))
	batch := []testrun.Result{{Response: "Canberra", Verdict: true}, {Response: "Sydney", Verdict: false}}
	require.NoError(t, s.AppendProviderResult(ctx, run.ID, "model-a", batch))

	snap, err := s.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusRunning, snap.Status)
	assert.Equal(t, batch, snap.Results["model-a"])

	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusCompleted, ""))
	snap, err = s.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCompleted, snap.Status)
	assert.Equal(t, run.ID, snap.RunID)
}

func testTerminalIsImmutable(t *testing.T, s store.Store) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)

	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusRunning, ""))
	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusFailed, "boom"))

	err = s.SaveStatus(ctx, run.ID, testrun.StatusRunning, "")
	assert.ErrorIs(t, err, testrun.ErrInvalidTransition)
	err = s.SaveStatus(ctx, run.ID, testrun.StatusCompleted, "")
	assert.ErrorIs(t, err, testrun.ErrInvalidTransition)

	snap, err := s.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.Reason)
}

func testAppendRequiresRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)

	err = s.AppendProviderResult(ctx, run.ID, "model-a", []testrun.Result{{Response: "x"}})
	assert.ErrorIs(t, err, store.ErrNotRunning)
}

func testDuplicateProvidersAccumulate(t *testing.T, s store.Store) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Definition("model-a", "model-a"), "alice")
	require.NoError(t, err)
	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusRunning, ""))

	first := []testrun.Result{{Response: "1", Verdict: true}, {Response: "2", Verdict: true}}
	second := []testrun.Result{{Response: "3", Verdict: false}, {Response: "4", Verdict: true}}
	require.NoError(t, s.AppendProviderResult(ctx, run.ID, "model-a", first))
	require.NoError(t, s.AppendProviderResult(ctx, run.ID, "model-a", second))

	snap, err := s.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, append(first, second...), snap.Results["model-a"])
}

func testListRunsByOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	a1, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, Definition(), "bob")
	require.NoError(t, err)
	a2, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, ids)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testConcurrentReaders(t *testing.T, s store.Store) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Definition(), "alice")
	require.NoError(t, err)
	require.NoError(t, s.SaveStatus(ctx, run.ID, testrun.StatusRunning, ""))

	batch := []testrun.Result{{Response: "a"}, {Response: "b"}, {Response: "c"}}

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				snap, err := s.LoadSnapshot(ctx, run.ID)
				if err != nil {
					errs <- err.Error()
					return
				}
				if n := len(snap.Results["model-a"]); n%len(batch) != 0 {
					errs <- "observed partial batch"
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendProviderResult(ctx, run.ID, "model-a", batch))
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
