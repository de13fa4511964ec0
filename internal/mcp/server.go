package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ldi/casegen/internal/api"
	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Backend is the part of the generation service exposed as tools.
type Backend interface {
	db.CaseCreator
	ListProjects(ctx context.Context, page, size int) (*models.Page[models.Project], error)
	ListUnifiedTestCases(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error)
	GetUnifiedTestCase(ctx context.Context, id int64) (*models.UnifiedTestCase, error)
	GenerateTestPoints(ctx context.Context, businessType string, projectID int64, additionalContext string) (*models.GenerationResult, error)
	GenerateTestCasesFromPoints(ctx context.Context, businessType string, projectID int64, pointIDs []int64, additionalContext string) (*models.GenerationResult, error)
	GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error)
	CancelTask(ctx context.Context, taskID string) error
	GetStatistics(ctx context.Context, projectID int64, businessType string) (*models.Statistics, error)
}

var errNoProject = errors.New("no project selected: pass project_id or run 'casegen use <id>'")

// NewServer creates the MCP server. Generation and test case tools go to the
// backend; contexts, variables and staged changes live in the local store.
func NewServer(database *db.DB, backend Backend, version string) *server.MCPServer {
	s := server.NewMCPServer("casegen", version)

	// Projects and records
	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List projects."),
		mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
		mcp.WithNumber("size", mcp.Description("Page size (default 20, max 100)")),
	), listProjectsHandler(backend))

	s.AddTool(mcp.NewTool("list_test_cases",
		mcp.WithDescription("List test points and test cases of a project."),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("business_type", mcp.Description("Filter by business type code")),
		mcp.WithString("stage", mcp.Description("test_point or test_case")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithString("keyword", mcp.Description("Search in names and descriptions")),
		mcp.WithNumber("page", mcp.Description("Page number")),
		mcp.WithNumber("size", mcp.Description("Page size")),
	), listTestCasesHandler(database, backend))

	s.AddTool(mcp.NewTool("get_test_case",
		mcp.WithDescription("Get a single test point or test case by id."),
		mcp.WithNumber("id", mcp.Description("Record id"), mcp.Required()),
	), getTestCaseHandler(backend))

	s.AddTool(mcp.NewTool("get_statistics",
		mcp.WithDescription("Get test point and test case counts for a project."),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("business_type", mcp.Description("Limit to one business type")),
	), getStatisticsHandler(database, backend))

	// Staging
	s.AddTool(mcp.NewTool("stage_test_point",
		mcp.WithDescription("Propose a manual test point. Changes are staged and must be committed to take effect."),
		mcp.WithString("business_type", mcp.Description("Business type code"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Test point name (unique within the session)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("What the test point covers")),
		mcp.WithString("priority", mcp.Description("low|medium|high")),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), stageTestPointHandler(database))

	s.AddTool(mcp.NewTool("stage_test_case",
		mcp.WithDescription("Propose a manual test case derived from test points. Reference points staged in the same session by name, or existing points by id."),
		mcp.WithString("business_type", mcp.Description("Business type code"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Test case name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Test case description")),
		mcp.WithString("preconditions", mcp.Description("Preconditions")),
		mcp.WithArray("steps", mcp.Description("Ordered steps; each 'action => expected'"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("expected_result", mcp.Description("Overall expected result")),
		mcp.WithString("priority", mcp.Description("low|medium|high")),
		mcp.WithArray("point_names", mcp.Description("Names of test points staged in this session"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("test_point_ids", mcp.Description("Ids of existing test points"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), stageTestCaseHandler(database))

	s.AddTool(mcp.NewTool("list_staged_changes",
		mcp.WithDescription("List all staged changes for a session. Use this to review a proposed plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), listStagedChangesHandler(database))

	s.AddTool(mcp.NewTool("discard_staged_changes",
		mcp.WithDescription("Drop all staged changes for a session."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), discardStagedChangesHandler(database))

	s.AddTool(mcp.NewTool("commit_staged_changes",
		mcp.WithDescription("Create all staged test points, then the staged test cases, on the backend."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), commitStagedChangesHandler(database, backend))

	// Generation
	s.AddTool(mcp.NewTool("generate_test_points",
		mcp.WithDescription("Start AI generation of test points for a business type. Returns a task id; poll it with get_task_status."),
		mcp.WithString("business_type", mcp.Description("Business type code"), mcp.Required()),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("context_name", mcp.Description("Name of a saved history context to include")),
		mcp.WithString("additional_context", mcp.Description("Extra instructions for the generator")),
	), generateTestPointsHandler(database, backend))

	s.AddTool(mcp.NewTool("generate_test_cases",
		mcp.WithDescription("Start AI generation of test cases from existing test points. Returns a task id."),
		mcp.WithString("business_type", mcp.Description("Business type code"), mcp.Required()),
		mcp.WithArray("test_point_ids", mcp.Description("Test point ids to expand"), mcp.Required(), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithNumber("project_id", mcp.Description("Project id (defaults to the selected project)")),
		mcp.WithString("context_name", mcp.Description("Name of a saved history context to include")),
		mcp.WithString("additional_context", mcp.Description("Extra instructions for the generator")),
	), generateTestCasesHandler(database, backend))

	s.AddTool(mcp.NewTool("get_task_status",
		mcp.WithDescription("Get the status and progress of a generation task."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), getTaskStatusHandler(database, backend))

	s.AddTool(mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel a running generation task."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), cancelTaskHandler(backend))

	// Local contexts and variables
	s.AddTool(mcp.NewTool("list_contexts",
		mcp.WithDescription("List saved history contexts for a business type, including shared ones."),
		mcp.WithString("business_type", mcp.Description("Business type code (empty lists shared contexts only)")),
	), listContextsHandler(database))

	s.AddTool(mcp.NewTool("create_context",
		mcp.WithDescription("Save a reusable history context."),
		mcp.WithString("name", mcp.Description("Unique name"), mcp.Required()),
		mcp.WithString("content", mcp.Description("Context text"), mcp.Required()),
		mcp.WithString("business_type", mcp.Description("Business type code; empty shares it across types")),
	), createContextHandler(database))

	s.AddTool(mcp.NewTool("delete_context",
		mcp.WithDescription("Delete a saved history context by name."),
		mcp.WithString("name", mcp.Description("Context name"), mcp.Required()),
	), deleteContextHandler(database))

	s.AddTool(mcp.NewTool("list_variables",
		mcp.WithDescription("List template variables usable as {{name}} in prompts."),
	), listVariablesHandler(database))

	s.AddTool(mcp.NewTool("render_template",
		mcp.WithDescription("Render a prompt template locally, reporting missing required variables."),
		mcp.WithString("content", mcp.Description("Template text with {{variable}} placeholders"), mcp.Required()),
		mcp.WithObject("values", mcp.Description("Variable values by name")),
	), renderTemplateHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// backendError reports a backend failure with its user-facing message.
func backendError(what string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %s", what, errs.Translate(err)))
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func parseStrings(request mcp.CallToolRequest, key string) []string {
	raw, _ := arguments(request)[key].([]any)
	var out []string
	for _, v := range raw {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseIDs(request mcp.CallToolRequest, key string) []int64 {
	return api.ParseIDs(parseStrings(request, key))
}

// resolveProject returns project_id or the selected project.
func resolveProject(ctx context.Context, database *db.DB, request mcp.CallToolRequest) (int64, error) {
	if id := api.NormalizeProjectID(mcp.ParseInt64(request, "project_id", 0)); id > 0 {
		return id, nil
	}
	id, err := database.CurrentProjectID(ctx)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errNoProject
	}
	return id, nil
}
