// Package pgstore is a store.Store backed by PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

const schema = `
CREATE TABLE IF NOT EXISTS tests (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	user_message   TEXT NOT NULL,
	review_message TEXT NOT NULL,
	num_requests   INTEGER NOT NULL,
	selected_llms  JSONB NOT NULL,
	status         TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	results        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at     TIMESTAMPTZ NOT NULL,
	creator        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tests_creator_idx ON tests (creator, created_at);
`

const selectRun = `
SELECT id, title, description, user_message, review_message, num_requests,
       selected_llms, status, reason, results, created_at, creator
FROM tests`

// PGXStore persists runs in the tests table through a pgx connection pool.
type PGXStore struct {
	conn *pgxpool.Pool
	now  func() time.Time
}

// New connects to uri and ensures the schema exists.
func New(ctx context.Context, uri string) (*PGXStore, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if _, err := conn.Exec(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &PGXStore{conn: conn, now: time.Now}, nil
}

// CreateRun inserts a CREATED run for def.
func (p *PGXStore) CreateRun(ctx context.Context, def testrun.Definition, owner string) (*testrun.Run, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	providers, err := json.Marshal(def.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode providers: %w", err)
	}
	run := &testrun.Run{
		ID:         uuid.NewString(),
		Definition: def,
		Status:     testrun.StatusCreated,
		Results:    make(testrun.Results),
		CreatedAt:  p.now().UTC().Truncate(time.Microsecond),
		Owner:      owner,
	}

	sql := `
INSERT INTO tests (id, title, description, user_message, review_message, num_requests,
                   selected_llms, status, results, created_at, creator)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, '{}'::jsonb, $9, $10)
`
	if _, err := p.conn.Exec(ctx, sql,
		run.ID, def.Title, def.Description, def.UserMessage, def.ReviewMessage, def.NumRequests,
		string(providers), string(run.Status), run.CreatedAt, owner,
	); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

func (p *PGXStore) LoadRun(ctx context.Context, runID string) (*testrun.Run, error) {
	run, err := scanRun(p.conn.QueryRow(ctx, selectRun+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

func (p *PGXStore) LoadDefinition(ctx context.Context, runID string) (testrun.Definition, error) {
	run, err := p.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Definition{}, err
	}
	return run.Definition, nil
}

// SaveStatus applies the transition with a conditional UPDATE on the stored status.
func (p *PGXStore) SaveStatus(ctx context.Context, runID string, status testrun.Status, reason string) error {
	var from []string
	for _, s := range testrun.AllowedFrom(status) {
		from = append(from, string(s))
	}

	sql := `UPDATE tests SET status = $2, reason = $3 WHERE id = $1 AND status = ANY($4)`
	tag, err := p.conn.Exec(ctx, sql, runID, string(status), reason, from)
	if err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := p.currentStatus(ctx, runID)
	if err != nil {
		return err
	}
	return testrun.ValidateTransition(current, status)
}

func (p *PGXStore) AppendProviderResult(ctx context.Context, runID, providerID string, batch []testrun.Result) error {
	if batch == nil {
		batch = []testrun.Result{}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	sql := `
UPDATE tests
SET results = jsonb_set(results, ARRAY[$2::text], COALESCE(results->($2::text), '[]'::jsonb) || $3::jsonb)
WHERE id = $1 AND status = $4
`
	tag, err := p.conn.Exec(ctx, sql, runID, providerID, string(data), string(testrun.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to append results: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := p.currentStatus(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", store.ErrNotRunning, current)
}

func (p *PGXStore) LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error) {
	run, err := p.LoadRun(ctx, runID)
	if err != nil {
		return testrun.Snapshot{}, err
	}
	return run.Snapshot(), nil
}

func (p *PGXStore) ListRuns(ctx context.Context, owner string) ([]*testrun.Run, error) {
	rows, err := p.conn.Query(ctx, selectRun+` WHERE $1 = '' OR creator = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*testrun.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the pool.
func (p *PGXStore) Close() error {
	p.conn.Close()
	return nil
}

func (p *PGXStore) currentStatus(ctx context.Context, runID string) (testrun.Status, error) {
	var status string
	err := p.conn.QueryRow(ctx, `SELECT status FROM tests WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return testrun.Status(status), nil
}

func scanRun(row pgx.Row) (*testrun.Run, error) {
	var (
		run       testrun.Run
		status    string
		providers []byte
		results   []byte
	)
	err := row.Scan(
		&run.ID, &run.Definition.Title, &run.Definition.Description,
		&run.Definition.UserMessage, &run.Definition.ReviewMessage, &run.Definition.NumRequests,
		&providers, &status, &run.Reason, &results, &run.CreatedAt, &run.Owner,
	)
	if err != nil {
		return nil, err
	}
	run.Status = testrun.Status(status)
	if err := json.Unmarshal(providers, &run.Definition.Providers); err != nil {
		return nil, fmt.Errorf("failed to decode providers: %w", err)
	}
	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	if run.Results == nil {
		run.Results = make(testrun.Results)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}
