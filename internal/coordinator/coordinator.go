// Package coordinator drives test runs from CREATED to a terminal status.
//
// One coordinator goroutine owns a run. Providers are processed in definition
// order and each provider's requests strictly one after another; every
// finished batch is persisted before the next one starts, then published.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/llm-verdict/internal/metrics"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// ReasonCancelled is the failure reason recorded for cancelled runs.
const ReasonCancelled = "cancelled"

// DefaultWriteTimeout bounds writes that must survive the end of the run
// context: batch appends, the COMPLETED write and the best-effort FAILED write.
const DefaultWriteTimeout = 5 * time.Second

var (
	// ErrCancelled is returned when the run context ends before the run finishes.
	ErrCancelled = errors.New("run cancelled")
	// ErrNotStartable is returned for runs whose stored status is not CREATED.
	ErrNotStartable = errors.New("run is not startable")
)

// Completer produces a completion for a provider.
type Completer interface {
	Complete(ctx context.Context, providerID, prompt string) (string, error)
}

// Grader judges one response against the review instructions.
type Grader interface {
	Grade(ctx context.Context, response, reviewInstructions string) (bool, error)
}

// Publisher receives every snapshot the coordinator produces.
type Publisher interface {
	Publish(ctx context.Context, snap testrun.Snapshot)
}

// ProgressFunc is called before each request.
type ProgressFunc func(providerID string, request, total int)

// Coordinator executes runs one provider batch at a time, persisting and
// publishing after every batch.
type Coordinator struct {
	store     store.Store
	completer Completer
	grader    Grader
	publisher Publisher
	progress  ProgressFunc

	writeTimeout time.Duration
}

// New creates a Coordinator. publisher may be nil.
func New(st store.Store, completer Completer, grader Grader, publisher Publisher) *Coordinator {
	return &Coordinator{
		store:        st,
		completer:    completer,
		grader:       grader,
		publisher:    publisher,
		writeTimeout: DefaultWriteTimeout,
	}
}

// SetProgressFunc sets the progress callback.
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) {
	c.progress = fn
}

// execution is the coordinator's private view of one run.
type execution struct {
	runID   string
	def     testrun.Definition
	results testrun.Results
}

func (e *execution) snapshot(status testrun.Status, reason string) testrun.Snapshot {
	return testrun.Snapshot{
		RunID:   e.runID,
		Status:  status,
		Reason:  reason,
		Results: e.results.Clone(),
	}
}

// Run executes runID to completion. It returns nil when the run is COMPLETED.
// Otherwise the run is left FAILED (when possible) and the cause is returned:
// ErrCancelled, a *provider.Error or a *store.PersistenceError.
func (c *Coordinator) Run(ctx context.Context, runID string) error {
	def, err := c.store.LoadDefinition(ctx, runID)
	if err != nil {
		return &store.PersistenceError{Op: "load definition", Err: err}
	}

	exec := &execution{runID: runID, def: def, results: make(testrun.Results)}

	if err := ctx.Err(); err != nil {
		return c.fail(ctx, exec, ReasonCancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
	}
	if err := c.store.SaveStatus(ctx, runID, testrun.StatusRunning, ""); err != nil {
		if errors.Is(err, testrun.ErrInvalidTransition) {
			return fmt.Errorf("%w: %w", ErrNotStartable, err)
		}
		return &store.PersistenceError{Op: "save status", Err: err}
	}

	metrics.RunStarted()
	defer metrics.RunStopped()

	slog.Info("run started", "run_id", runID, "providers", len(def.Providers), "requests", def.NumRequests)
	c.publish(ctx, exec.snapshot(testrun.StatusRunning, ""))

	start := time.Now()
	for _, providerID := range def.Providers {
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, exec, ReasonCancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
		}

		batch, err := c.runBatch(ctx, exec, providerID)
		if err != nil {
			if ctx.Err() != nil {
				return c.fail(ctx, exec, ReasonCancelled, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
			}
			return c.fail(ctx, exec, err.Error(), err)
		}

		// A finished batch is kept even if the run context ends now;
		// cancellation is observed at the next provider boundary.
		if err := c.persist(ctx, func(wctx context.Context) error {
			return c.store.AppendProviderResult(wctx, runID, providerID, batch)
		}); err != nil {
			perr := &store.PersistenceError{Op: "append results", Err: err}
			return c.fail(ctx, exec, perr.Error(), perr)
		}
		exec.results[providerID] = append(exec.results[providerID], batch...)
		c.publish(ctx, exec.snapshot(testrun.StatusRunning, ""))

		slog.Info("provider batch complete", "run_id", runID, "provider", providerID, "requests", len(batch))
	}

	if err := c.persist(ctx, func(wctx context.Context) error {
		return c.store.SaveStatus(wctx, runID, testrun.StatusCompleted, "")
	}); err != nil {
		perr := &store.PersistenceError{Op: "save status", Err: err}
		return c.fail(ctx, exec, perr.Error(), perr)
	}
	c.publish(ctx, exec.snapshot(testrun.StatusCompleted, ""))
	metrics.RecordRunFinished(string(testrun.StatusCompleted))

	slog.Info("run completed", "run_id", runID, "duration", time.Since(start))
	return nil
}

// runBatch issues the provider's requests sequentially. A completion failure
// aborts the batch; a grading failure records a false verdict.
func (c *Coordinator) runBatch(ctx context.Context, exec *execution, providerID string) ([]testrun.Result, error) {
	total := exec.def.NumRequests
	batch := make([]testrun.Result, 0, total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.progress != nil {
			c.progress(providerID, i+1, total)
		}

		response, err := c.completer.Complete(ctx, providerID, exec.def.UserMessage)
		if err != nil {
			return nil, fmt.Errorf("request %d/%d: %w", i+1, total, err)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		verdict, err := c.grader.Grade(ctx, response, exec.def.ReviewMessage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("grading failed, recording false verdict",
				"run_id", exec.runID,
				"provider", providerID,
				"request", i+1,
				"error", err,
			)
			verdict = false
		}

		batch = append(batch, testrun.Result{Response: response, Verdict: verdict})
	}
	return batch, nil
}

// persist runs write on a context that survives cancellation of ctx, bounded
// by the write timeout.
func (c *Coordinator) persist(ctx context.Context, write func(context.Context) error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return write(writeCtx)
}

// fail records FAILED on a context that outlives the run context, publishes
// the terminal snapshot and returns cause.
func (c *Coordinator) fail(ctx context.Context, exec *execution, reason string, cause error) error {
	slog.Error("run failed", "run_id", exec.runID, "reason", reason, "error", cause)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	if err := c.store.SaveStatus(writeCtx, exec.runID, testrun.StatusFailed, reason); err != nil {
		slog.Error("failed to record run failure", "run_id", exec.runID, "error", err)
	}

	c.publish(writeCtx, exec.snapshot(testrun.StatusFailed, reason))
	metrics.RecordRunFinished(string(testrun.StatusFailed))
	return cause
}

func (c *Coordinator) publish(ctx context.Context, snap testrun.Snapshot) {
	if c.publisher != nil {
		c.publisher.Publish(context.WithoutCancel(ctx), snap)
	}
}
