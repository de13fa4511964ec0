package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func listProjectsHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		page, err := backend.ListProjects(ctx, mcp.ParseInt(request, "page", 1), mcp.ParseInt(request, "size", 0))
		if err != nil {
			return backendError("list projects", err), nil
		}
		return jsonResult(page)
	}
}

func listTestCasesHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := resolveProject(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		page, err := backend.ListUnifiedTestCases(ctx, models.CaseFilter{
			ProjectID:    projectID,
			BusinessType: mcp.ParseString(request, "business_type", ""),
			Stage:        models.Stage(mcp.ParseString(request, "stage", "")),
			Status:       models.CaseStatus(mcp.ParseString(request, "status", "")),
			Keyword:      mcp.ParseString(request, "keyword", ""),
			Page:         mcp.ParseInt(request, "page", 1),
			Size:         mcp.ParseInt(request, "size", 0),
		})
		if err != nil {
			return backendError("list test cases", err), nil
		}
		return jsonResult(page)
	}
}

func getTestCaseHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseInt64(request, "id", 0)
		if id <= 0 {
			return mcp.NewToolResultError("id must be a positive integer"), nil
		}
		tc, err := backend.GetUnifiedTestCase(ctx, id)
		if err != nil {
			return backendError("get test case", err), nil
		}
		return jsonResult(tc)
	}
}

func getStatisticsHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := resolveProject(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		stats, err := backend.GetStatistics(ctx, projectID, mcp.ParseString(request, "business_type", ""))
		if err != nil {
			return backendError("get statistics", err), nil
		}
		return jsonResult(stats)
	}
}

func stagedBase(ctx context.Context, database *db.DB, request mcp.CallToolRequest, stage models.Stage) (models.UnifiedTestCase, error) {
	projectID, err := resolveProject(ctx, database, request)
	if err != nil {
		return models.UnifiedTestCase{}, err
	}

	tc := models.UnifiedTestCase{
		ProjectID:    projectID,
		BusinessType: strings.TrimSpace(mcp.ParseString(request, "business_type", "")),
		Name:         strings.TrimSpace(mcp.ParseString(request, "name", "")),
		Description:  mcp.ParseString(request, "description", ""),
		Stage:        stage,
		Status:       models.CaseStatusDraft,
		Priority:     models.Priority(mcp.ParseString(request, "priority", "")),
	}
	if tc.Name == "" {
		return tc, fmt.Errorf("name is required")
	}
	if tc.BusinessType == "" {
		return tc, fmt.Errorf("business_type is required")
	}
	switch tc.Priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return tc, fmt.Errorf("invalid priority: %q", tc.Priority)
	}
	return tc, nil
}

func stageTestPointHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		tc, err := stagedBase(ctx, database, request, models.StageTestPoint)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		for _, p := range database.Staging.Peek(sessionID).Points {
			if p.Case.Name == tc.Name {
				return mcp.NewToolResultError(fmt.Sprintf("test point '%s' is already staged in session '%s'", tc.Name, sessionID)), nil
			}
		}

		database.Staging.Add(sessionID, &db.StagedCase{Case: tc})
		return mcp.NewToolResultText(fmt.Sprintf("Test point '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", tc.Name, sessionID)), nil
	}
}

// parseStep reads "action => expected"; a step without the arrow has no expected result.
func parseStep(n int, s string) models.TestStep {
	action, expected, _ := strings.Cut(s, "=>")
	return models.TestStep{StepNumber: n, Action: strings.TrimSpace(action), Expected: strings.TrimSpace(expected)}
}

func stageTestCaseHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		tc, err := stagedBase(ctx, database, request, models.StageTestCase)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tc.Preconditions = mcp.ParseString(request, "preconditions", "")
		tc.ExpectedResult = mcp.ParseString(request, "expected_result", "")
		for i, s := range parseStrings(request, "steps") {
			tc.Steps = append(tc.Steps, parseStep(i+1, s))
		}
		tc.TestPointIDs = parseIDs(request, "test_point_ids")

		pointNames := parseStrings(request, "point_names")
		if len(pointNames) == 0 && len(tc.TestPointIDs) == 0 {
			return mcp.NewToolResultError("a test case must reference at least one test point via point_names or test_point_ids"), nil
		}

		staged := make(map[string]bool)
		for _, p := range database.Staging.Peek(sessionID).Points {
			staged[p.Case.Name] = true
		}
		for _, name := range pointNames {
			if !staged[name] {
				return mcp.NewToolResultError(fmt.Sprintf("test point '%s' is not staged in session '%s'", name, sessionID)), nil
			}
		}

		database.Staging.Add(sessionID, &db.StagedCase{Case: tc, PointNames: pointNames})
		return mcp.NewToolResultText(fmt.Sprintf("Test case '%s' staged for session '%s'.", tc.Name, sessionID)), nil
	}
}

type stagedView struct {
	Name         string            `json:"name"`
	BusinessType string            `json:"business_type"`
	Description  string            `json:"description,omitempty"`
	Priority     models.Priority   `json:"priority,omitempty"`
	Steps        []models.TestStep `json:"steps,omitempty"`
	PointNames   []string          `json:"point_names,omitempty"`
	TestPointIDs []int64           `json:"test_point_ids,omitempty"`
}

func viewStaged(items []*db.StagedCase) []stagedView {
	out := make([]stagedView, 0, len(items))
	for _, it := range items {
		out = append(out, stagedView{
			Name:         it.Case.Name,
			BusinessType: it.Case.BusinessType,
			Description:  it.Case.Description,
			Priority:     it.Case.Priority,
			Steps:        it.Case.Steps,
			PointNames:   it.PointNames,
			TestPointIDs: it.Case.TestPointIDs,
		})
	}
	return out
}

func listStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		items := database.Staging.Peek(sessionID)
		return jsonResult(map[string]any{
			"session_id":  sessionID,
			"test_points": viewStaged(items.Points),
			"test_cases":  viewStaged(items.Cases),
		})
	}
}

func discardStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		database.Staging.Discard(sessionID)
		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' discarded", sessionID)), nil
	}
}

func commitStagedChangesHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		res, err := database.CommitBatch(ctx, sessionID, backend)
		if err != nil {
			created := 0
			if res != nil {
				created = len(res.Created)
			}
			return mcp.NewToolResultError(fmt.Sprintf("commit stopped after %d created record(s): %s", created, err)), nil
		}

		ids := make([]int64, 0, len(res.Created))
		for _, c := range res.Created {
			ids = append(ids, c.ID)
		}
		return jsonResult(map[string]any{
			"session_id":  sessionID,
			"created":     len(res.Created),
			"created_ids": ids,
		})
	}
}
