// Package badgerstore is a store.Store backed by an embedded badger database.
// Each run is one JSON document; every mutation is a single read-modify-write
// transaction, so readers never see partial batches.
package badgerstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

var runPrefix = []byte("run/")

func key(runID string) []byte {
	return append(append([]byte(nil), runPrefix...), runID...)
}

// Store keeps each run as one JSON value in badger. Writes are synced to disk
// before they return.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens the database at dirPath. An empty dirPath keeps everything in memory.
func Open(dirPath string) (*Store, error) {
	var badgerOpts badger.Options
	if dirPath == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dirPath).WithSyncWrites(true).WithTruncate(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open backing db")
	}

	return &Store{
		db:  db,
		now: time.Now,
	}, nil
}

func (s *Store) CreateRun(_ context.Context, def testrun.Definition, owner string) (*testrun.Run, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid definition")
	}
	run := &testrun.Run{
		ID:         uuid.NewString(),
		Definition: def,
		Status:     testrun.StatusCreated,
		Results:    make(testrun.Results),
		CreatedAt:  s.now().UTC(),
		Owner:      owner,
	}
	data, err := json.Marshal(run)
	if err != nil {
		return nil, errors.WithMessage(err, "could not encode run")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(run.ID), data)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "could not store run %s", run.ID)
	}
	return run, nil
}

func (s *Store) LoadRun(_ context.Context, runID string) (*testrun.Run, error) {
	var run *testrun.Run
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = get(txn, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) LoadDefinition(ctx context.Context, runID string) (testrun.Definition, error) {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Definition{}, err
	}
	return run.Definition, nil
}

func (s *Store) SaveStatus(_ context.Context, runID string, status testrun.Status, reason string) error {
	return s.update(runID, func(run *testrun.Run) error {
		return store.ApplyStatus(run, status, reason)
	})
}

func (s *Store) AppendProviderResult(_ context.Context, runID, providerID string, batch []testrun.Result) error {
	return s.update(runID, func(run *testrun.Run) error {
		return store.ApplyAppend(run, providerID, batch)
	})
}

func (s *Store) LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error) {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Snapshot{}, err
	}
	return run.Snapshot(), nil
}

func (s *Store) ListRuns(_ context.Context, owner string) ([]*testrun.Run, error) {
	var runs []*testrun.Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run testrun.Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return errors.WithMessagef(err, "could not decode %s", it.Item().Key())
			}
			if owner != "" && run.Owner != owner {
				continue
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) update(runID string, fn func(*testrun.Run) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		run, err := get(txn, runID)
		if err != nil {
			return err
		}
		if err := fn(run); err != nil {
			return err
		}
		data, err := json.Marshal(run)
		if err != nil {
			return errors.WithMessage(err, "could not encode run")
		}
		return txn.Set(key(runID), data)
	})
}

func get(txn *badger.Txn, runID string) (*testrun.Run, error) {
	item, err := txn.Get(key(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.WithMessage(store.ErrNotFound, runID)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read run %s", runID)
	}
	var run testrun.Run
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &run)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "could not decode run %s", runID)
	}
	if run.Results == nil {
		run.Results = make(testrun.Results)
	}
	return &run, nil
}
