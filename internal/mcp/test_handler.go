package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/llm-verdict/internal/server"
	"github.com/giantswarm/llm-verdict/internal/status"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

func registerTestTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	createTool := mcp.NewTool("create_test",
		mcp.WithDescription("Create a test run and start it in the background. Either name a definition or pass the fields inline."),
		mcp.WithString("definition",
			mcp.Description("Name of an embedded example or a YAML file in the definitions directory"),
		),
		mcp.WithString("title",
			mcp.Description("Short label for the test"),
		),
		mcp.WithString("description",
			mcp.Description("Free-form description"),
		),
		mcp.WithString("user_message",
			mcp.Description("Prompt sent to every provider"),
		),
		mcp.WithString("review_message",
			mcp.Description("Criterion each response is graded against"),
		),
		mcp.WithNumber("num_requests",
			mcp.Description("Number of requests per provider occurrence"),
		),
		mcp.WithArray("providers",
			mcp.Description("Provider ids in execution order; duplicates run again"),
			mcp.WithStringItems(),
		),
		mcp.WithString("owner",
			mcp.Description("Owner recorded on the run when the server has no OAuth (default: anonymous)"),
		),
	)
	s.AddTool(createTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleCreateTest(ctx, request, sc)
	})

	statusTool := mcp.NewTool("get_test_status",
		mcp.WithDescription("Get the latest status and graded results of a test run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Id returned by create_test"),
		),
	)
	s.AddTool(statusTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetTestStatus(ctx, request, sc)
	})

	listTool := mcp.NewTool("list_tests",
		mcp.WithDescription("List test runs, optionally restricted to one owner"),
		mcp.WithString("owner",
			mcp.Description("Only list runs created by this owner"),
		),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListTests(ctx, request, sc)
	})

	examplesTool := mcp.NewTool("list_examples",
		mcp.WithDescription("List the built-in example definitions usable with create_test"),
	)
	s.AddTool(examplesTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListExamples(ctx, request, sc)
	})

	return nil
}

// runSummary is the list_tests view of a run.
type runSummary struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    testrun.Status `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Owner     string         `json:"owner"`
	Providers []string       `json:"providers"`
	CreatedAt string         `json:"created_at"`
}

func handleCreateTest(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	def, err := definitionFromArgs(args, sc.DefinitionsDir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// An authenticated caller always owns the run; the argument only applies
	// when the server runs without OAuth.
	owner, ok := testrun.OwnerFromContext(ctx)
	if !ok {
		owner, _ = args["owner"].(string)
	}
	if owner == "" {
		owner = testrun.DefaultOwner
	}

	run, err := sc.Store.CreateRun(ctx, *def, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create test: %v", err)), nil
	}

	if err := sc.Runs.Start(ctx, run.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start test %s: %v", run.ID, err)), nil
	}
	slog.Info("test created via MCP", "run_id", run.ID, "owner", owner, "providers", len(def.Providers))

	return jsonResult(map[string]any{
		"id":     run.ID,
		"status": run.Status,
		"title":  def.Title,
	})
}

func definitionFromArgs(args map[string]any, definitionsDir string) (*testrun.Definition, error) {
	if name, ok := args["definition"].(string); ok && name != "" {
		if def, err := testrun.LoadExample(name); err == nil {
			return def, nil
		}
		if definitionsDir == "" {
			return nil, fmt.Errorf("definition %q not found", name)
		}
		path, err := resolveDefinitionPath(definitionsDir, name)
		if err != nil {
			return nil, fmt.Errorf("invalid definition: %w", err)
		}
		def, err := testrun.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition: %w", err)
		}
		return def, nil
	}

	def := &testrun.Definition{}
	def.Title, _ = args["title"].(string)
	def.Description, _ = args["description"].(string)
	def.UserMessage, _ = args["user_message"].(string)
	def.ReviewMessage, _ = args["review_message"].(string)
	if n, ok := args["num_requests"].(float64); ok {
		if n != float64(int(n)) {
			return nil, fmt.Errorf("num_requests must be an integer")
		}
		def.NumRequests = int(n)
	}
	if raw, ok := args["providers"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("providers must be an array of strings")
		}
		for _, item := range items {
			p, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("providers must be an array of strings")
			}
			def.Providers = append(def.Providers, p)
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return def, nil
}

func handleGetTestStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	runID, _ := request.GetArguments()["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snap, err := sc.Snapshots.Read(ctx, runID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, status.ErrUnknownRun) {
		return mcp.NewToolResultError(fmt.Sprintf("test %s not found", runID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read status: %v", err)), nil
	}
	return jsonResult(snap)
}

func handleListTests(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	owner, _ := request.GetArguments()["owner"].(string)

	runs, err := sc.Store.ListRuns(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tests: %v", err)), nil
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, runSummary{
			ID:        r.ID,
			Title:     r.Definition.Title,
			Status:    r.Status,
			Reason:    r.Reason,
			Owner:     r.Owner,
			Providers: r.Definition.Providers,
			CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return jsonResult(summaries)
}

func handleListExamples(_ context.Context, _ mcp.CallToolRequest, _ *server.ServerContext) (*mcp.CallToolResult, error) {
	names, err := testrun.Examples()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list examples: %v", err)), nil
	}

	type exampleInfo struct {
		Name        string   `json:"name"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		NumRequests int      `json:"num_requests"`
		Providers   []string `json:"providers"`
	}

	infos := make([]exampleInfo, 0, len(names))
	for _, name := range names {
		def, err := testrun.LoadExample(name)
		if err != nil {
			slog.Warn("skipping invalid example", "name", name, "error", err)
			continue
		}
		infos = append(infos, exampleInfo{
			Name:        name,
			Title:       def.Title,
			Description: def.Description,
			NumRequests: def.NumRequests,
			Providers:   def.Providers,
		})
	}
	return jsonResult(infos)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
