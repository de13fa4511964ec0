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

// additionalContext joins a saved history context with free text.
func additionalContext(ctx context.Context, database *db.DB, request mcp.CallToolRequest) (string, error) {
	var parts []string
	if name := strings.TrimSpace(mcp.ParseString(request, "context_name", "")); name != "" {
		hc, err := database.GetContextByName(ctx, name)
		if err != nil {
			return "", err
		}
		if hc == nil {
			return "", fmt.Errorf("history context '%s' not found", name)
		}
		parts = append(parts, hc.Content)
	}
	if extra := strings.TrimSpace(mcp.ParseString(request, "additional_context", "")); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n"), nil
}

func generationResult(res *models.GenerationResult) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"task_id":       res.TaskID,
		"status":        res.Status,
		"message":       res.Message,
		"business_type": res.BusinessType,
		"next":          "call get_task_status with this task_id until status is completed, failed or cancelled",
	})
}

func generateTestPointsHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := resolveProject(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		addCtx, err := additionalContext(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := backend.GenerateTestPoints(ctx, mcp.ParseString(request, "business_type", ""), projectID, addCtx)
		if err != nil {
			return backendError("start test point generation", err), nil
		}
		return generationResult(res)
	}
}

func generateTestCasesHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := resolveProject(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pointIDs := parseIDs(request, "test_point_ids")
		if len(pointIDs) == 0 {
			return mcp.NewToolResultError("test_point_ids must contain at least one positive id"), nil
		}
		addCtx, err := additionalContext(ctx, database, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := backend.GenerateTestCasesFromPoints(ctx, mcp.ParseString(request, "business_type", ""), projectID, pointIDs, addCtx)
		if err != nil {
			return backendError("start test case generation", err), nil
		}
		return generationResult(res)
	}
}

func getTaskStatusHandler(database *db.DB, backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := strings.TrimSpace(mcp.ParseString(request, "task_id", ""))
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		task, err := backend.GetTaskStatus(ctx, taskID)
		if err != nil {
			return backendError("get task status", err), nil
		}
		if task.IsTerminal() {
			// History is best effort; the status itself is still returned.
			_ = database.RecordTask(ctx, task)
		}
		return jsonResult(task)
	}
}

func cancelTaskHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := strings.TrimSpace(mcp.ParseString(request, "task_id", ""))
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		if err := backend.CancelTask(ctx, taskID); err != nil {
			return backendError("cancel task", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' cancelled", taskID)), nil
	}
}
