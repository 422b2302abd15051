// Package testrun defines test definitions, runs, their status lifecycle and
// the snapshots observers see while a run progresses.
package testrun

import (
	"fmt"
	"strings"
	"time"
)

// DefaultOwner is recorded for runs created without a caller identity.
const DefaultOwner = "anonymous"

// Definition is the immutable description of one evaluation job.
// Providers may repeat; every occurrence is executed as its own batch.
type Definition struct {
	Title         string   `json:"title" yaml:"title"`
	Description   string   `json:"description" yaml:"description"`
	UserMessage   string   `json:"user_message" yaml:"user_message"`
	ReviewMessage string   `json:"review_message" yaml:"review_message"`
	NumRequests   int      `json:"num_requests" yaml:"num_requests"`
	Providers     []string `json:"selected_llms" yaml:"providers"`
}

// Validate checks the definition can be executed.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.UserMessage) == "" {
		return fmt.Errorf("user_message is required")
	}
	if strings.TrimSpace(d.ReviewMessage) == "" {
		return fmt.Errorf("review_message is required")
	}
	if d.NumRequests <= 0 {
		return fmt.Errorf("num_requests must be positive, got %d", d.NumRequests)
	}
	if len(d.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for i, p := range d.Providers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("provider %d is empty", i)
		}
	}
	return nil
}

// Result is one graded response.
type Result struct {
	Response string `json:"response"`
	Verdict  bool   `json:"review"`
}

// Results maps a provider id to its accumulated batches, in execution order.
type Results map[string][]Result

// Clone returns a deep copy.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = append([]Result(nil), v...)
	}
	return out
}

// Count returns the number of results across all providers.
func (r Results) Count() int {
	n := 0
	for _, v := range r {
		n += len(v)
	}
	return n
}

// Run is the mutable execution record of a Definition.
type Run struct {
	ID         string     `json:"id"`
	Definition Definition `json:"definition"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Results    Results    `json:"results"`
	CreatedAt  time.Time  `json:"created_at"`
	Owner      string     `json:"creator"`
}

// Snapshot returns the observable state of the run.
func (r *Run) Snapshot() Snapshot {
	return Snapshot{
		RunID:   r.ID,
		Status:  r.Status,
		Reason:  r.Reason,
		Results: r.Results.Clone(),
	}
}

// Snapshot is the latest observable {status, results} pair for a run.
// Snapshots are values; holders must not mutate Results.
type Snapshot struct {
	RunID   string  `json:"run_id"`
	Status  Status  `json:"status"`
	Reason  string  `json:"reason,omitempty"`
	Results Results `json:"results"`
}
