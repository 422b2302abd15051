package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// Memory is an in-process Store. Runs do not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*testrun.Run
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*testrun.Run),
		now:  time.Now,
	}
}

// CreateRun stores a CREATED run for def with a fresh id.
func (m *Memory) CreateRun(_ context.Context, def testrun.Definition, owner string) (*testrun.Run, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	run := &testrun.Run{
		ID:         uuid.NewString(),
		Definition: def,
		Status:     testrun.StatusCreated,
		Results:    make(testrun.Results),
		CreatedAt:  m.now().UTC(),
		Owner:      owner,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = CloneRun(run)
	return run, nil
}

// LoadRun returns a copy of the run.
func (m *Memory) LoadRun(_ context.Context, runID string) (*testrun.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return CloneRun(run), nil
}

// LoadDefinition returns the run's definition.
func (m *Memory) LoadDefinition(ctx context.Context, runID string) (testrun.Definition, error) {
	run, err := m.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Definition{}, err
	}
	return run.Definition, nil
}

// SaveStatus moves the run to status if the transition is allowed.
func (m *Memory) SaveStatus(_ context.Context, runID string, status testrun.Status, reason string) error {
	return m.update(runID, func(run *testrun.Run) error {
		return ApplyStatus(run, status, reason)
	})
}

// AppendProviderResult appends batch to the provider's results.
func (m *Memory) AppendProviderResult(_ context.Context, runID, providerID string, batch []testrun.Result) error {
	return m.update(runID, func(run *testrun.Run) error {
		return ApplyAppend(run, providerID, batch)
	})
}

// LoadSnapshot returns the run's current snapshot.
func (m *Memory) LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error) {
	run, err := m.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Snapshot{}, err
	}
	return run.Snapshot(), nil
}

// ListRuns returns runs oldest first, restricted to owner when it is not empty.
func (m *Memory) ListRuns(_ context.Context, owner string) ([]*testrun.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*testrun.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if owner != "" && run.Owner != owner {
			continue
		}
		runs = append(runs, CloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// update applies fn to a copy and swaps it in only on success.
func (m *Memory) update(runID string, fn func(*testrun.Run) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	next := CloneRun(run)
	if err := fn(next); err != nil {
		return err
	}
	m.runs[runID] = next
	return nil
}
