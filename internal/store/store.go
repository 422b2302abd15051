// Package store persists test runs. Every write is atomic with respect to
// concurrent reads: no reader observes a half-written result list.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// ErrNotRunning is returned when results are appended to a run that is not RUNNING.
var ErrNotRunning = errors.New("run is not running")

// Store is the persistence capability the coordinator and the API layer use.
type Store interface {
	// CreateRun persists a new run in status CREATED and assigns its id.
	CreateRun(ctx context.Context, def testrun.Definition, owner string) (*testrun.Run, error)
	// LoadRun returns a copy of the stored run.
	LoadRun(ctx context.Context, runID string) (*testrun.Run, error)
	LoadDefinition(ctx context.Context, runID string) (testrun.Definition, error)
	// SaveStatus moves the run to status; the transition is validated against the stored status.
	SaveStatus(ctx context.Context, runID string, status testrun.Status, reason string) error
	// AppendProviderResult appends a finished batch under providerID.
	AppendProviderResult(ctx context.Context, runID, providerID string, batch []testrun.Result) error
	LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error)
	// ListRuns returns the owner's runs, oldest first. An empty owner lists all runs.
	ListRuns(ctx context.Context, owner string) ([]*testrun.Run, error)
	Close() error
}

// PersistenceError marks a failed store operation during a run. It is fatal to the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ApplyStatus validates and applies a status change to run.
func ApplyStatus(run *testrun.Run, status testrun.Status, reason string) error {
	if err := testrun.ValidateTransition(run.Status, status); err != nil {
		return err
	}
	run.Status = status
	run.Reason = reason
	return nil
}

// ApplyAppend appends batch under providerID. Repeated providers accumulate under one key.
func ApplyAppend(run *testrun.Run, providerID string, batch []testrun.Result) error {
	if run.Status != testrun.StatusRunning {
		return fmt.Errorf("%w: status is %s", ErrNotRunning, run.Status)
	}
	if run.Results == nil {
		run.Results = make(testrun.Results)
	}
	run.Results[providerID] = append(run.Results[providerID], batch...)
	return nil
}

// CloneRun deep-copies a run so callers cannot alias stored state.
func CloneRun(run *testrun.Run) *testrun.Run {
	c := *run
	c.Definition.Providers = append([]string(nil), run.Definition.Providers...)
	c.Results = run.Results.Clone()
	return &c
}
