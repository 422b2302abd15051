package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/giantswarm/llm-verdict/internal/metrics"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// ReasonPanic is the failure reason recorded for runs whose goroutine panicked.
const ReasonPanic = "panic"

var (
	// ErrAlreadyRunning is returned when a run is started twice.
	ErrAlreadyRunning = errors.New("run is already active")
	// ErrShuttingDown is returned by Start after Shutdown began.
	ErrShuttingDown = errors.New("dispatcher is shutting down")
)

// Runner executes a single run.
type Runner interface {
	Run(ctx context.Context, runID string) error
}

// Dispatcher launches one goroutine per started run and tracks which runs are active.
type Dispatcher struct {
	runner    Runner
	store     store.Store
	publisher Publisher

	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu       sync.Mutex
	active   map[string]struct{}
	stopping bool
}

// NewDispatcher creates a Dispatcher that executes runs with runner and
// validates starts against st.
func NewDispatcher(runner Runner, st store.Store) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:       runner,
		store:        st,
		writeTimeout: DefaultWriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		active:       make(map[string]struct{}),
	}
}

// SetPublisher sets where the FAILED snapshot of a panicked run is published.
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.publisher = p
}

// Start launches runID in the background. The run must exist, be CREATED and
// not already active.
func (d *Dispatcher) Start(ctx context.Context, runID string) error {
	run, err := d.store.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != testrun.StatusCreated {
		return fmt.Errorf("%w: %s is %s", ErrNotStartable, runID, run.Status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		return ErrShuttingDown
	}
	if _, ok := d.active[runID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, runID)
	}
	d.active[runID] = struct{}{}

	d.wg.Go(func() {
		defer d.release(runID)

		var pc panics.Catcher
		pc.Try(func() {
			if err := d.runner.Run(d.ctx, runID); err != nil {
				slog.Warn("run finished with error", "run_id", runID, "error", err)
			}
		})
		if r := pc.Recovered(); r != nil {
			d.failPanicked(runID, r)
		}
	})
	return nil
}

// failPanicked moves a run whose goroutine panicked to FAILED. The write does
// not depend on the dispatcher context, which may already be cancelled.
func (d *Dispatcher) failPanicked(runID string, r *panics.Recovered) {
	slog.Error("run panicked", "run_id", runID, "panic", r.String())

	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()
	if err := d.store.SaveStatus(ctx, runID, testrun.StatusFailed, ReasonPanic); err != nil {
		slog.Error("failed to record run failure", "run_id", runID, "error", err)
		return
	}
	metrics.RecordRunFinished(string(testrun.StatusFailed))
	if d.publisher == nil {
		return
	}
	run, err := d.store.LoadRun(ctx, runID)
	if err != nil {
		slog.Error("failed to load panicked run", "run_id", runID, "error", err)
		return
	}
	d.publisher.Publish(ctx, run.Snapshot())
}

func (d *Dispatcher) release(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, runID)
}

// Active returns the ids of runs currently executing, sorted.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops accepting runs, cancels in-flight ones and waits for them
// to record their terminal status, or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()

	d.cancel()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for active runs: %w", ctx.Err())
	}
}

// Wait blocks until every started run has returned. It does not cancel them.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
