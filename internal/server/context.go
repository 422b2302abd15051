package server

import (
	"context"

	"github.com/giantswarm/llm-verdict/internal/kserve"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// RunStarter hands a created run to the background executor.
type RunStarter interface {
	Start(ctx context.Context, runID string) error
}

// SnapshotReader reads the latest progress of a run.
type SnapshotReader interface {
	Read(ctx context.Context, runID string) (testrun.Snapshot, error)
}

// EndpointLister lists discovered model endpoints.
type EndpointLister interface {
	List(ctx context.Context) ([]kserve.Endpoint, error)
}

// ServerContext holds shared dependencies for MCP tool handlers.
type ServerContext struct {
	Store     store.Store
	Runs      RunStarter
	Snapshots SnapshotReader
	Models    EndpointLister // nil when KServe discovery is disabled

	// DefinitionsDir holds YAML definitions create_test may reference by name (optional).
	DefinitionsDir string
}
