// Package status publishes per-run snapshots to concurrent observers.
//
// The coordinator is the only writer for a run. Readers get the most recent
// snapshot without blocking it: the live snapshot is held behind an
// atomic pointer and swapped on every publish, terminal snapshots move to an
// LRU cache, and anything older is read back from the loaders.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// DefaultTerminalCacheSize bounds how many finished runs stay in memory.
const DefaultTerminalCacheSize = 256

// DefaultPollInterval is how often Poll re-reads a snapshot.
const DefaultPollInterval = time.Second

// ErrUnknownRun is returned when no source knows the run.
var ErrUnknownRun = errors.New("unknown run")

// Loader reads a snapshot from somewhere other than memory.
type Loader interface {
	LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error)
}

// Sink receives a copy of every published snapshot. Sink failures are logged, never propagated.
type Sink interface {
	Mirror(ctx context.Context, snap testrun.Snapshot) error
}

type live struct {
	current atomic.Pointer[testrun.Snapshot]
	subs    map[int]chan testrun.Snapshot
}

// Publisher holds the latest snapshot of every run.
type Publisher struct {
	mu       sync.RWMutex
	runs     map[string]*live
	nextSub  int
	terminal *lru.Cache
	loaders  []Loader
	sinks    []Sink
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLoaders sets the fallbacks consulted, in order, for runs not held in memory.
func WithLoaders(loaders ...Loader) Option {
	return func(p *Publisher) { p.loaders = append(p.loaders, loaders...) }
}

// WithSinks registers mirrors for published snapshots.
func WithSinks(sinks ...Sink) Option {
	return func(p *Publisher) { p.sinks = append(p.sinks, sinks...) }
}

// WithLogger sets the logger for mirror failures and ignored publishes.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher creates a publisher keeping up to cacheSize terminal snapshots.
func NewPublisher(cacheSize int, opts ...Option) (*Publisher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultTerminalCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal cache: %w", err)
	}
	p := &Publisher{
		runs:     make(map[string]*live),
		terminal: cache,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish makes snap the latest snapshot for its run. Once a run has
// published a terminal snapshot, later publishes for it are ignored.
func (p *Publisher) Publish(ctx context.Context, snap testrun.Snapshot) {
	snap.Results = snap.Results.Clone()

	p.mu.Lock()
	if _, done := p.terminal.Peek(snap.RunID); done {
		p.mu.Unlock()
		p.logger.Debug("ignoring publish for finished run", "run_id", snap.RunID, "status", snap.Status)
		return
	}

	l, ok := p.runs[snap.RunID]
	if !ok {
		l = &live{subs: make(map[int]chan testrun.Snapshot)}
		p.runs[snap.RunID] = l
	}
	l.current.Store(&snap)

	for _, ch := range l.subs {
		offer(ch, snap)
	}
	if snap.Status.Terminal() {
		p.terminal.Add(snap.RunID, snap)
		for _, ch := range l.subs {
			close(ch)
		}
		delete(p.runs, snap.RunID)
	}
	p.mu.Unlock()

	for _, sink := range p.sinks {
		if err := sink.Mirror(ctx, snap); err != nil {
			p.logger.Warn("failed to mirror snapshot", "run_id", snap.RunID, "error", err)
		}
	}
}

// Read returns the latest snapshot for runID.
func (p *Publisher) Read(ctx context.Context, runID string) (testrun.Snapshot, error) {
	p.mu.RLock()
	l, ok := p.runs[runID]
	p.mu.RUnlock()
	if ok {
		if cur := l.current.Load(); cur != nil {
			return copySnapshot(*cur), nil
		}
	}

	if v, ok := p.terminal.Get(runID); ok {
		return copySnapshot(v.(testrun.Snapshot)), nil
	}
	return p.load(ctx, runID)
}

// load consults the loaders in order and returns the first snapshot found.
func (p *Publisher) load(ctx context.Context, runID string) (testrun.Snapshot, error) {
	var errs []error
	for _, loader := range p.loaders {
		snap, err := loader.LoadSnapshot(ctx, runID)
		if err == nil {
			return snap, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return testrun.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return testrun.Snapshot{}, errors.Join(errs...)
}

// Subscribe returns a channel that always holds the newest snapshot not yet
// received, seeded with the current one. Intermediate snapshots may be skipped.
// The channel is closed after the terminal snapshot. Runs not held in memory
// are seeded from the loaders; a terminal loaded snapshot is delivered and the
// channel closed at once. Call cancel to stop receiving.
func (p *Publisher) Subscribe(ctx context.Context, runID string) (<-chan testrun.Snapshot, func(), error) {
	ch := make(chan testrun.Snapshot, 1)

	p.mu.Lock()
	if p.deliverTerminalLocked(runID, ch) {
		p.mu.Unlock()
		return ch, func() {}, nil
	}
	if l, ok := p.runs[runID]; ok {
		id := p.addSubLocked(l, ch)
		p.mu.Unlock()
		return ch, p.unsubscribe(runID, id, ch), nil
	}
	p.mu.Unlock()

	snap, err := p.load(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if snap.Status.Terminal() {
		ch <- snap
		close(ch)
		return ch, func() {}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// The run may have been published while the loaders were consulted.
	if p.deliverTerminalLocked(runID, ch) {
		return ch, func() {}, nil
	}
	l, ok := p.runs[runID]
	if !ok {
		l = &live{subs: make(map[int]chan testrun.Snapshot)}
		p.runs[runID] = l
	}
	id := p.addSubLocked(l, ch)
	if len(ch) == 0 {
		ch <- snap
	}
	return ch, p.unsubscribe(runID, id, ch), nil
}

// deliverTerminalLocked hands ch the cached terminal snapshot of runID and
// closes it, reporting whether the run was cached. Callers hold p.mu.
func (p *Publisher) deliverTerminalLocked(runID string, ch chan testrun.Snapshot) bool {
	v, ok := p.terminal.Get(runID)
	if !ok {
		return false
	}
	ch <- copySnapshot(v.(testrun.Snapshot))
	close(ch)
	return true
}

// addSubLocked registers ch on l and seeds it with the live snapshot.
// Callers hold p.mu.
func (p *Publisher) addSubLocked(l *live, ch chan testrun.Snapshot) int {
	id := p.nextSub
	p.nextSub++
	l.subs[id] = ch
	if cur := l.current.Load(); cur != nil {
		ch <- copySnapshot(*cur)
	}
	return id
}

func (p *Publisher) unsubscribe(runID string, id int, ch chan testrun.Snapshot) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		l, ok := p.runs[runID]
		if !ok {
			return
		}
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		if len(l.subs) == 0 && l.current.Load() == nil {
			delete(p.runs, runID)
		}
	}
}

// LiveRuns returns how many runs are held in memory, published or watched.
func (p *Publisher) LiveRuns() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.runs)
}

// Poll reads the snapshot every interval and hands it to fn until the run is
// terminal, fn fails, or ctx is done.
func (p *Publisher) Poll(ctx context.Context, runID string, interval time.Duration, fn func(testrun.Snapshot) error) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := p.Read(ctx, runID)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
		if snap.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// offer replaces whatever is buffered in ch with snap. Callers hold p.mu.
func offer(ch chan testrun.Snapshot, snap testrun.Snapshot) {
	select {
	case <-ch:
	default:
	}
	ch <- copySnapshot(snap)
}

func copySnapshot(s testrun.Snapshot) testrun.Snapshot {
	s.Results = s.Results.Clone()
	return s
}
